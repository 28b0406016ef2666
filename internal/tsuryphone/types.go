package tsuryphone

// Category is one top-level named section of device state.
type Category string

const (
	CategoryStatus    Category = "status"
	CategoryStats     Category = "stats"
	CategoryDND       Category = "dnd"
	CategoryPhonebook Category = "phonebook"
	CategoryBlocked   Category = "blocked"
	CategoryWebhooks  Category = "webhooks"
)

// categoryEndpoints maps each category to its read endpoint.
var categoryEndpoints = map[Category]string{
	CategoryStatus:    "/status",
	CategoryStats:     "/stats",
	CategoryDND:       "/dnd",
	CategoryPhonebook: "/phonebook",
	CategoryBlocked:   "/blocked",
	CategoryWebhooks:  "/webhooks",
}

// PolledCategories are fetched whole on every refresh cycle; the rest are
// loaded lazily on first read to keep device load down.
var PolledCategories = []Category{CategoryStatus, CategoryStats}

// OnDemandCategories are only fetched when a reader asks for them.
var OnDemandCategories = []Category{CategoryDND, CategoryPhonebook, CategoryBlocked, CategoryWebhooks}

func (c Category) Valid() bool {
	_, ok := categoryEndpoints[c]
	return ok
}

// Action names accepted by the unified /action endpoint.
const (
	ActionCall            = "call"
	ActionHangup          = "hangup"
	ActionRingPattern     = "ring_pattern"
	ActionDNDForce        = "dnd_force"
	ActionDNDSchedule     = "dnd_schedule"
	ActionQuickDialAdd    = "quick_dial_add"
	ActionQuickDialRemove = "quick_dial_remove"
	ActionBlockedAdd      = "blocked_add"
	ActionBlockedRemove   = "blocked_remove"
	ActionWebhookAdd      = "webhook_add"
	ActionWebhookRemove   = "webhook_remove"
	ActionCallWaiting     = "switch_call_waiting"
	ActionMaintenance     = "maintenance"
	ActionReset           = "reset"
	ActionRefresh         = "refresh"
)

// Phone states reported by the firmware.
const (
	StateStartup         = "Startup"
	StateCheckHardware   = "CheckHardware"
	StateCheckLine       = "CheckLine"
	StateIdle            = "Idle"
	StateInvalidNumber   = "InvalidNumber"
	StateIncomingCall    = "IncomingCall"
	StateIncomingRinging = "IncomingCallRing"
	StateInCall          = "InCall"
	StateDialing         = "Dialing"
)

// IsRingingState reports whether the device is announcing an inbound call.
func IsRingingState(state string) bool {
	return state == StateIncomingCall || state == StateIncomingRinging
}

// IsActiveCallState reports whether a call is ringing or in progress.
func IsActiveCallState(state string) bool {
	return IsRingingState(state) || state == StateInCall
}
