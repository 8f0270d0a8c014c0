// Package queue implements the notification pipeline: a producer that
// validates and appends typed events, and consumers that claim, deliver,
// and ack them with at-least-once semantics.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Recognized event type discriminators.
const (
	EventDeadlineCreated  = "deadline_created"
	EventDeadlineReminder = "deadline_reminder"
	EventScoresUpdated    = "scores_updated"
	EventBroadcast        = "broadcast"
)

// ErrInvalidEventPayload means the event type is unknown or the payload does
// not match the shape the type requires.
var ErrInvalidEventPayload = errors.New("invalid event payload")

// DeadlinePayload is carried by deadline_created and deadline_reminder.
type DeadlinePayload struct {
	UserID  int64     `json:"user_id"`
	Title   string    `json:"title"`
	Subject string    `json:"subject,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	DueAt   time.Time `json:"due_at"`
	AllDay  bool      `json:"all_day,omitempty"`
}

// ScoresPayload is carried by scores_updated.
type ScoresPayload struct {
	UserID  int64   `json:"user_id"`
	Subject string  `json:"subject"`
	Total   float64 `json:"total"`
}

// BroadcastPayload is carried by broadcast and fans out to every link with
// notifications enabled.
type BroadcastPayload struct {
	Text string `json:"text"`
}

// ValidatePayload checks that raw matches the shape eventType requires.
func ValidatePayload(eventType string, raw json.RawMessage) error {
	switch eventType {
	case EventDeadlineCreated, EventDeadlineReminder:
		var p DeadlinePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
		}
		if p.UserID <= 0 || p.Title == "" || p.DueAt.IsZero() {
			return fmt.Errorf("%w: %s requires user_id, title and due_at", ErrInvalidEventPayload, eventType)
		}
	case EventScoresUpdated:
		var p ScoresPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
		}
		if p.UserID <= 0 || p.Subject == "" {
			return fmt.Errorf("%w: scores_updated requires user_id and subject", ErrInvalidEventPayload)
		}
	case EventBroadcast:
		var p BroadcastPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
		}
		if p.Text == "" {
			return fmt.Errorf("%w: broadcast requires text", ErrInvalidEventPayload)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEventPayload, eventType)
	}
	return nil
}
