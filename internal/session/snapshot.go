package session

import (
	"sync"

	"github.com/tsuryphone/ha-bridge/addon/internal/tsuryphone"
)

// nestedStatusKeys get a two-level merge so a partial update such as
// {"call":{"number":"556"}} keeps previously known sibling fields like
// call.id.
var nestedStatusKeys = map[string]bool{"wifi": true, "call": true}

// Snapshot is the process-local cached view of device state, one JSON-like
// object per category. Writers never remove keys: the poll path overwrites
// whole categories it fetched whole, the push path merges partial status
// updates key by key.
type Snapshot struct {
	mu   sync.RWMutex
	data map[tsuryphone.Category]map[string]any
}

func NewSnapshot() *Snapshot {
	return &Snapshot{data: make(map[tsuryphone.Category]map[string]any)}
}

// Get returns a deep copy of one category, or false if it was never loaded.
func (s *Snapshot) Get(category tsuryphone.Category) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[category]
	if !ok {
		return nil, false
	}
	return deepCopyObject(value), true
}

// Set overwrites one category with a fetched-whole value.
func (s *Snapshot) Set(category tsuryphone.Category, value map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[category] = deepCopyObject(value)
}

// MergeStatus folds a partial status update into the status category using
// merge-preserve semantics.
func (s *Snapshot) MergeStatus(update map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.data[tsuryphone.CategoryStatus]
	if !ok {
		status = make(map[string]any)
		s.data[tsuryphone.CategoryStatus] = status
	}

	for key, value := range update {
		nested, isObject := value.(map[string]any)
		if nestedStatusKeys[key] && isObject {
			existing, _ := status[key].(map[string]any)
			if existing == nil {
				existing = make(map[string]any)
			}
			for nestedKey, nestedValue := range nested {
				existing[nestedKey] = deepCopyValue(nestedValue)
			}
			status[key] = existing
			continue
		}
		status[key] = deepCopyValue(value)
	}
}

// All returns a deep copy of every loaded category, keyed by category name.
func (s *Snapshot) All() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.data))
	for category, value := range s.data {
		out[string(category)] = deepCopyObject(value)
	}
	return out
}

func deepCopyObject(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = deepCopyValue(value)
	}
	return dst
}

func deepCopyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return deepCopyObject(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, item := range typed {
			copied[i] = deepCopyValue(item)
		}
		return copied
	default:
		return value
	}
}
