package storage

import "errors"

// Sentinel errors for link and token operations. These are user-correctable
// outcomes, returned to the bot layer for user-facing messaging.
var (
	// ErrTokenNotFound means no token row exists for the presented value.
	ErrTokenNotFound = errors.New("link token not found")

	// ErrTokenAlreadyUsed means the token was consumed by an earlier
	// verification. Rejection is idempotent; no re-link happens.
	ErrTokenAlreadyUsed = errors.New("link token already used")

	// ErrTokenExpired means verification arrived at or after expires_at.
	// The token is not consumed.
	ErrTokenExpired = errors.New("link token expired")

	// ErrChatAlreadyLinked means the chat is bound to a different user.
	// The token is not consumed so the rightful owner can retry.
	ErrChatAlreadyLinked = errors.New("chat already linked to another user")

	// ErrLinkNotFound means no link row exists for the given user or chat.
	ErrLinkNotFound = errors.New("telegram link not found")

	// ErrDuplicateToken means a generated token collided with a historical
	// one. The issuer retries with a fresh value up to a cap.
	ErrDuplicateToken = errors.New("token value already exists")
)
