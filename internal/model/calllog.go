package model

import "time"

// CallType classifies a call-log entry.
type CallType string

const (
	CallIncoming CallType = "incoming"
	CallOutgoing CallType = "outgoing"
	CallBlocked  CallType = "blocked"
)

// CallLogEntry is one observed call. DurationSec stays 0 until the call
// ends; blocked entries keep it at 0.
type CallLogEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        CallType  `json:"type"`
	Number      string    `json:"number"`
	DurationSec int       `json:"duration"`
	State       string    `json:"state"`
}
