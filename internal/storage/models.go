// Package storage provides database operations and data models.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TelegramLink binds a user account to a Telegram chat. At most one link
// exists per user and per chat at any time.
type TelegramLink struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	ChatID        int64     `db:"chat_id"`
	NotifyEnabled bool      `db:"notify_enabled"`
	CreatedAt     time.Time `db:"created_at"`
}

// LinkToken is a single-use, time-bounded proof that a user intends to link
// a chat. Consumed tokens are kept for audit and never reused.
type LinkToken struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Token     string    `db:"token"`
	ExpiresAt time.Time `db:"expires_at"`
	Used      bool      `db:"used"`
	CreatedAt time.Time `db:"created_at"`
}

// QueueEvent is one unit of outbound notification work.
//
// ProcessedAt is terminal: NULL means unprocessed, non-NULL means delivered.
// ClaimedBy/ClaimExpiresAt form a transient lease held by the consumer that
// claimed the row; an expired lease makes the row reclaimable.
type QueueEvent struct {
	ID             int64           `db:"id"`
	Type           string          `db:"type"`
	Payload        json.RawMessage `db:"payload"`
	CreatedAt      time.Time       `db:"created_at"`
	ClaimedBy      sql.NullString  `db:"claimed_by"`
	ClaimExpiresAt sql.NullTime    `db:"claim_expires_at"`
	ProcessedAt    sql.NullTime    `db:"processed_at"`
}

// Processed reports whether the event has reached its terminal state.
func (e *QueueEvent) Processed() bool {
	return e.ProcessedAt.Valid
}
