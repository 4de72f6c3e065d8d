package common

import (
	"quickshow/src/config"
	"quickshow/src/types"
	"quickshow/src/workflow"
)

// Workflow event names. The stripe webhook and the HTTP handlers emit these;
// everything below consumes them.
const (
	EventIdentityCreated = "identity.created"
	EventIdentityUpdated = "identity.updated"
	EventIdentityDeleted = "identity.deleted"
	EventPaymentCheck    = "payment.checkCompleted"
	EventShowBooked      = "show.booked"
	EventShowAdded       = "show.added"
)

// RegisterWorkflows wires every workflow function into the engine. Called
// once from boot before the engine starts.
func RegisterWorkflows(e *workflow.Engine) {
	e.OnEvent(EventIdentityCreated, "sync-user-created", SyncUserCreated)
	e.OnEvent(EventIdentityUpdated, "sync-user-updated", SyncUserUpdated)
	e.OnEvent(EventIdentityDeleted, "sync-user-deleted", SyncUserDeleted)
	e.OnEvent(EventPaymentCheck, "release-seats-delete-booking", ReleaseSeatsAndDeleteBooking)
	e.OnEvent(EventShowBooked, "send-booking-confirmation-email", SendBookingConfirmationEmail)
	e.OnEvent(EventShowAdded, "send-new-show-notifications", SendNewShowNotifications)
	e.OnCron(config.ReminderCron(), "send-show-reminders", SendShowReminders)
}

// payloadUint reads a numeric id out of an event payload. Payloads round-trip
// through jsonb, so numbers usually come back as float64.
func payloadUint(data types.JSONB, key string) (uint, bool) {
	switch v := data[key].(type) {
	case float64:
		return uint(v), true
	case int:
		return uint(v), true
	case uint:
		return v, true
	default:
		return 0, false
	}
}

func payloadString(data types.JSONB, key string) (string, bool) {
	s, ok := data[key].(string)
	return s, ok
}
