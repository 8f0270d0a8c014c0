// Package linking implements the one-time-token protocol that binds a user
// account to a Telegram chat.
package linking

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/user/notifybot/internal/metrics"
	"github.com/user/notifybot/internal/storage"
	"github.com/user/notifybot/pkg/logger"
)

// tokenBytes is the entropy of a generated token before encoding.
const tokenBytes = 24

var (
	// ErrInvalidTTL means the requested token lifetime is non-positive or
	// exceeds the configured maximum.
	ErrInvalidTTL = errors.New("token ttl out of range")

	// ErrRateLimited means the user asked for too many tokens too quickly.
	ErrRateLimited = errors.New("token issuance rate limited")

	// ErrTokenCollision means generation kept colliding with historical
	// tokens and the retry cap was exhausted.
	ErrTokenCollision = errors.New("could not generate a unique token")
)

// Store is the durable state the service needs. Implemented by
// storage.LinkStore.
type Store interface {
	InsertToken(ctx context.Context, userID int64, token string, expiresAt time.Time) (int64, error)
	ConsumeTokenAndLink(ctx context.Context, token string, chatID int64, now time.Time) (int64, error)
}

// Service issues single-use link tokens and verifies them on behalf of the
// bot. All token-lifecycle atomicity lives in the store; the service handles
// validation, generation, and rate limiting.
type Service struct {
	store    Store
	limiter  *userLimiter
	maxTTL   time.Duration
	attempts int
	clock    func() time.Time
}

// NewService creates a linking service. issuePerMinute bounds token requests
// per user; attempts caps regeneration after token collisions.
func NewService(store Store, maxTTL time.Duration, issuePerMinute, attempts int) *Service {
	if attempts <= 0 {
		attempts = 3
	}
	return &Service{
		store:    store,
		limiter:  newUserLimiter(issuePerMinute),
		maxTTL:   maxTTL,
		attempts: attempts,
		clock:    time.Now,
	}
}

// IssueToken creates a single-use token for userID valid for ttl.
func (s *Service) IssueToken(ctx context.Context, userID int64, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 || ttl > s.maxTTL {
		return "", time.Time{}, fmt.Errorf("%w: %s (max %s)", ErrInvalidTTL, ttl, s.maxTTL)
	}
	if !s.limiter.Allow(userID) {
		return "", time.Time{}, ErrRateLimited
	}

	expiresAt := s.clock().Add(ttl)
	var lastErr error
	for i := 0; i < s.attempts; i++ {
		token, err := generateToken()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
		}
		_, err = s.store.InsertToken(ctx, userID, token, expiresAt)
		switch {
		case err == nil:
			metrics.TokensIssued.Inc()
			return token, expiresAt, nil
		case errors.Is(err, storage.ErrDuplicateToken):
			logger.Warn().Int64("user_id", userID).Msg("Token collision, regenerating")
			lastErr = ErrTokenCollision
		default:
			// Transient store failure: back off briefly before retrying.
			logger.Warn().Err(err).Int64("user_id", userID).Msg("Token insert failed, retrying")
			lastErr = err
			select {
			case <-ctx.Done():
				return "", time.Time{}, ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return "", time.Time{}, fmt.Errorf("token issuance failed after %d attempts: %w", s.attempts, lastErr)
}

// Verify consumes a token presented by the bot for a chat and returns the
// bound user id. Token and link errors come from the store's taxonomy and
// are meant for user-facing messaging; they are never retried here.
func (s *Service) Verify(ctx context.Context, token string, chatID int64) (int64, error) {
	if token == "" {
		return 0, storage.ErrTokenNotFound
	}
	userID, err := s.store.ConsumeTokenAndLink(ctx, token, chatID, s.clock())
	metrics.Verifications.WithLabelValues(verifyOutcome(err)).Inc()
	if err != nil {
		return 0, err
	}
	logger.Info().Int64("user_id", userID).Int64("chat_id", chatID).Msg("Chat linked")
	return userID, nil
}

func verifyOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, storage.ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrTokenAlreadyUsed):
		return "used"
	case errors.Is(err, storage.ErrTokenExpired):
		return "expired"
	case errors.Is(err, storage.ErrChatAlreadyLinked):
		return "conflict"
	default:
		return "error"
	}
}

// generateToken returns a cryptographically unguessable opaque string.
func generateToken() (string, error) {
	seed := make([]byte, tokenBytes)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(seed), nil
}
