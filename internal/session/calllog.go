package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tsuryphone/ha-bridge/addon/internal/model"
	"github.com/tsuryphone/ha-bridge/addon/internal/tsuryphone"
)

const maxCallLogEntries = 100

// Store persists the per-device call log across process restarts.
type Store interface {
	SaveCallLog(ctx context.Context, device string, entries []model.CallLogEntry) error
	LoadCallLog(ctx context.Context, device string) ([]model.CallLogEntry, error)
}

// CallLog derives a call history from the stream of status and stats
// observations. The device reports only its current state plus cumulative
// counters, so incoming calls are detected from state transitions, blocked
// calls from counter increases, and outgoing calls are recorded when the
// call action succeeds. Newest entry first, capped at 100.
type CallLog struct {
	device string
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []model.CallLogEntry

	lastState       string
	lastNumber      string
	callStart       time.Time
	tracking        bool
	blockedTotal    int
	blockedBaseline bool
}

func NewCallLog(device string, store Store, logger *slog.Logger) *CallLog {
	return &CallLog{device: device, store: store, logger: logger, now: time.Now}
}

// Load restores previously persisted entries. Tracker state starts fresh;
// a call in flight across a restart is not reconstructed.
func (l *CallLog) Load(ctx context.Context) error {
	entries, err := l.store.LoadCallLog(ctx, l.device)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	if len(l.entries) > maxCallLogEntries {
		l.entries = l.entries[:maxCallLogEntries]
	}
	return nil
}

// Entries returns a copy of the log, newest first.
func (l *CallLog) Entries() []model.CallLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.CallLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ObserveStatus feeds one status snapshot (polled or pushed) into the
// transition tracker.
func (l *CallLog) ObserveStatus(ctx context.Context, status map[string]any) {
	state, _ := status["state"].(string)
	number := activeCallNumber(status)

	l.mu.Lock()

	switch {
	case tsuryphone.IsActiveCallState(state) && number != "" &&
		(state != l.lastState || number != l.lastNumber):
		l.callStart = l.now()
		l.tracking = true
		l.lastNumber = number
		if tsuryphone.IsRingingState(state) && !tsuryphone.IsRingingState(l.lastState) {
			l.appendLocked(ctx, model.CallIncoming, number, 0, state)
		}

	case tsuryphone.IsActiveCallState(l.lastState) && !tsuryphone.IsActiveCallState(state) && l.tracking:
		duration := int(l.now().Sub(l.callStart).Seconds())
		if l.lastState == tsuryphone.StateInCall {
			// Only back-fill a still-pending entry; a genuinely instant
			// call that already carries a duration is left alone.
			if len(l.entries) > 0 && l.entries[0].DurationSec == 0 {
				l.entries[0].DurationSec = duration
				l.persistLocked(ctx)
			}
		}
		l.tracking = false
		l.lastNumber = ""
	}

	l.lastState = state
	l.mu.Unlock()
}

// ObserveStats watches the cumulative blocked-call counter. The counter
// carries no per-call detail, so synthetic entries use "Unknown". The first
// observation only seeds the baseline.
func (l *CallLog) ObserveStats(ctx context.Context, stats map[string]any) {
	total, ok := intFromAny(stats["total_blocked_calls"])
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.blockedBaseline {
		l.blockedBaseline = true
		l.blockedTotal = total
		return
	}
	for i := l.blockedTotal; i < total; i++ {
		l.appendLocked(ctx, model.CallBlocked, "Unknown", 0, "Blocked")
	}
	if total > l.blockedTotal {
		l.blockedTotal = total
	}
}

// RecordOutgoing logs a dialed call at the moment the call action succeeds.
func (l *CallLog) RecordOutgoing(ctx context.Context, number string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(ctx, model.CallOutgoing, number, 0, "Calling")
}

// Flush persists the current log; called as the final step of teardown.
func (l *CallLog) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.SaveCallLog(ctx, l.device, l.entries)
}

func (l *CallLog) appendLocked(ctx context.Context, callType model.CallType, number string, duration int, state string) {
	entry := model.CallLogEntry{
		ID:          uuid.NewString(),
		Timestamp:   l.now().UTC(),
		Type:        callType,
		Number:      number,
		DurationSec: duration,
		State:       state,
	}
	l.entries = append([]model.CallLogEntry{entry}, l.entries...)
	if len(l.entries) > maxCallLogEntries {
		l.entries = l.entries[:maxCallLogEntries]
	}
	l.persistLocked(ctx)
}

func (l *CallLog) persistLocked(ctx context.Context) {
	if err := l.store.SaveCallLog(ctx, l.device, l.entries); err != nil {
		l.logger.Warn("call log persist failed", "device", l.device, "err", err)
	}
}

func activeCallNumber(status map[string]any) string {
	call, _ := status["call"].(map[string]any)
	if call == nil {
		return ""
	}
	if active, _ := call["active"].(bool); !active {
		return ""
	}
	number, _ := call["number"].(string)
	return number
}

func intFromAny(value any) (int, bool) {
	switch typed := value.(type) {
	case float64:
		return int(typed), true
	case int:
		return typed, true
	case int64:
		return int(typed), true
	default:
		return 0, false
	}
}
