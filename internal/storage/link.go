package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// LinkStore handles telegram link and link token database operations.
type LinkStore struct {
	db *Database
}

// NewLinkStore creates a new link store.
func NewLinkStore(db *Database) *LinkStore {
	return &LinkStore{db: db}
}

// InsertToken persists a fresh unused token for a user. A collision with any
// historical token value is reported as ErrDuplicateToken.
func (s *LinkStore) InsertToken(ctx context.Context, userID int64, token string, expiresAt time.Time) (int64, error) {
	query := `
		INSERT INTO tg_link_tokens (user_id, token, expires_at, used)
		VALUES (?, ?, ?, 0)
	`
	res, err := s.db.ExecContext(ctx, query, userID, token, expiresAt.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrDuplicateToken
		}
		return 0, fmt.Errorf("failed to insert link token: %w", err)
	}
	return res.LastInsertId()
}

// ConsumeTokenAndLink atomically consumes a token and upserts the link for
// (token's user, chatID). The whole check-and-set runs in one transaction so
// concurrent verifications of the same token are linearized: exactly one
// caller flips used 0->1, everyone else gets ErrTokenAlreadyUsed.
//
// Outcomes:
//   - unknown token: ErrTokenNotFound
//   - used token: ErrTokenAlreadyUsed
//   - now at or past expires_at: ErrTokenExpired, token left unconsumed
//   - chat bound to a different user: ErrChatAlreadyLinked, token left unconsumed
//   - chat already bound to the same user: token consumed, success
//   - user linked to another chat: link replaced with the new chat
func (s *LinkStore) ConsumeTokenAndLink(ctx context.Context, token string, chatID int64, now time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tok LinkToken
	err = tx.GetContext(ctx, &tok, `SELECT * FROM tg_link_tokens WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load link token: %w", err)
	}

	if tok.Used {
		return 0, ErrTokenAlreadyUsed
	}
	if !now.Before(tok.ExpiresAt) {
		return 0, ErrTokenExpired
	}

	var existing TelegramLink
	err = tx.GetContext(ctx, &existing, `SELECT * FROM telegram_links WHERE chat_id = ?`, chatID)
	sameChat := false
	switch {
	case err == nil:
		if existing.UserID != tok.UserID {
			return 0, ErrChatAlreadyLinked
		}
		sameChat = true
	case errors.Is(err, sql.ErrNoRows):
		// chat unclaimed
	default:
		return 0, fmt.Errorf("failed to check chat binding: %w", err)
	}

	// Conditional consume closes the race between concurrent verifications:
	// zero rows affected means another transaction got there first.
	res, err := tx.ExecContext(ctx,
		`UPDATE tg_link_tokens SET used = 1 WHERE id = ? AND used = 0 AND expires_at > ?`,
		tok.ID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to consume link token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrTokenAlreadyUsed
	}

	if !sameChat {
		// One link per user: re-linking to a new chat replaces the old
		// binding while keeping notify_enabled and created_at.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO telegram_links (user_id, chat_id)
			VALUES (?, ?)
			ON CONFLICT(user_id) DO UPDATE SET chat_id = excluded.chat_id
		`, tok.UserID, chatID)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert telegram link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit link transaction: %w", err)
	}
	return tok.UserID, nil
}

// GetLinkByChatID returns the link bound to a chat.
func (s *LinkStore) GetLinkByChatID(ctx context.Context, chatID int64) (*TelegramLink, error) {
	var link TelegramLink
	err := s.db.GetContext(ctx, &link, `SELECT * FROM telegram_links WHERE chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load telegram link: %w", err)
	}
	return &link, nil
}

// GetLinkByUserID returns the link owned by a user.
func (s *LinkStore) GetLinkByUserID(ctx context.Context, userID int64) (*TelegramLink, error) {
	var link TelegramLink
	err := s.db.GetContext(ctx, &link, `SELECT * FROM telegram_links WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load telegram link: %w", err)
	}
	return &link, nil
}

// SetNotifyEnabled toggles notification delivery for a linked chat.
func (s *LinkStore) SetNotifyEnabled(ctx context.Context, chatID int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE telegram_links SET notify_enabled = ? WHERE chat_id = ?`, enabled, chatID)
	if err != nil {
		return fmt.Errorf("failed to update notify flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLinkNotFound
	}
	return nil
}

// ListNotifiable returns all links with notifications enabled.
func (s *LinkStore) ListNotifiable(ctx context.Context) ([]TelegramLink, error) {
	var links []TelegramLink
	err := s.db.SelectContext(ctx, &links,
		`SELECT * FROM telegram_links WHERE notify_enabled = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifiable links: %w", err)
	}
	return links, nil
}

// DeleteUserData removes a user's link and tokens. Called by the
// user-management collaborator when the owning account is deleted; this is
// the only path that removes token rows.
func (s *LinkStore) DeleteUserData(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM telegram_links WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete telegram link: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tg_link_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete link tokens: %w", err)
	}
	return tx.Commit()
}
