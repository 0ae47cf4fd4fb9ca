// Package events defines the roster change payloads shared by the API and the consumer.
package events

import "time"

// Event types emitted when an activity roster changes.
const (
	TypeParticipantSignedUp     = "participant.signed_up"
	TypeParticipantUnregistered = "participant.unregistered"
)

// RosterChanged is the message emitted whenever a participant joins or leaves an activity.
type RosterChanged struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Activity   string    `json:"activity"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}
