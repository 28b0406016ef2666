package tsuryphone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	maxRingDurationMs = 30000
	maxRingRepeats    = 100
)

// ErrInvalidRingPattern marks pattern text rejected before any device
// contact; callers can map it to an input error rather than a device fault.
var ErrInvalidRingPattern = errors.New("invalid ring pattern")

// RingPattern is the parsed form of the compact ring-pattern text:
// comma-separated millisecond durations plus an optional repeat suffix.
type RingPattern struct {
	Durations []int `json:"durations"`
	Repeats   int   `json:"repeats"`
}

// ParseRingPattern parses patterns such as "2500,500,500,500x3" or "500/5".
// Either 'x' or '/' introduces the repeat count; the split happens from the
// right. A repeated pattern must hold an even number of durations so the
// sequence alternates ring/pause.
func ParseRingPattern(pattern string) (RingPattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return RingPattern{}, fmt.Errorf("%w: pattern is empty", ErrInvalidRingPattern)
	}

	repeats := 1
	body := pattern
	separator := ""
	if idx := strings.LastIndex(pattern, "x"); idx >= 0 {
		separator = pattern[idx:]
	} else if idx := strings.LastIndex(pattern, "/"); idx >= 0 {
		separator = pattern[idx:]
	}
	if separator != "" {
		body = pattern[:len(pattern)-len(separator)]
		value, err := strconv.Atoi(strings.TrimSpace(separator[1:]))
		if err != nil {
			return RingPattern{}, fmt.Errorf("%w: bad repeat count in %q", ErrInvalidRingPattern, pattern)
		}
		repeats = value
	}
	if repeats <= 0 || repeats > maxRingRepeats {
		return RingPattern{}, fmt.Errorf("%w: repeat count %d out of range [1,%d]", ErrInvalidRingPattern, repeats, maxRingRepeats)
	}

	var durations []int
	for _, token := range strings.Split(body, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		duration, err := strconv.Atoi(token)
		if err != nil {
			return RingPattern{}, fmt.Errorf("%w: bad duration %q in %q", ErrInvalidRingPattern, token, pattern)
		}
		if duration <= 0 || duration > maxRingDurationMs {
			return RingPattern{}, fmt.Errorf("%w: duration %d out of range (0,%d]", ErrInvalidRingPattern, duration, maxRingDurationMs)
		}
		durations = append(durations, duration)
	}
	if len(durations) == 0 {
		return RingPattern{}, fmt.Errorf("%w: no durations in %q", ErrInvalidRingPattern, pattern)
	}
	if repeats > 1 && len(durations)%2 != 0 {
		return RingPattern{}, fmt.Errorf("%w: repeated pattern %q needs an even number of durations", ErrInvalidRingPattern, pattern)
	}

	return RingPattern{Durations: durations, Repeats: repeats}, nil
}
