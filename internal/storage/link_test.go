package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConsumeTokenSingleUse(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.InsertToken(ctx, 1, "tok-1", now.Add(10*time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}

	userID, err := store.ConsumeTokenAndLink(ctx, "tok-1", 77, now)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if userID != 1 {
		t.Fatalf("expected user 1, got %d", userID)
	}

	link, err := store.GetLinkByChatID(ctx, 77)
	if err != nil {
		t.Fatalf("load link: %v", err)
	}
	if link.UserID != 1 || !link.NotifyEnabled {
		t.Fatalf("unexpected link: %+v", link)
	}

	// Second verify with the same token must fail, even for another chat.
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-1", 88, now); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}
	if _, err := store.GetLinkByChatID(ctx, 88); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("chat 88 must not be linked, got %v", err)
	}
}

func TestConsumeTokenExpiredDoesNotMutate(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.InsertToken(ctx, 2, "tok-2", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}

	// Exactly at expires_at counts as expired.
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-2", 99, now.Add(time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	var tok LinkToken
	if err := db.Get(&tok, `SELECT * FROM tg_link_tokens WHERE token = ?`, "tok-2"); err != nil {
		t.Fatalf("load token: %v", err)
	}
	if tok.Used {
		t.Fatal("expired verification must not consume the token")
	}

	// A fresh token for the same user still works.
	if _, err := store.InsertToken(ctx, 2, "tok-2b", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert fresh token: %v", err)
	}
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-2b", 99, now); err != nil {
		t.Fatalf("fresh token verify: %v", err)
	}
}

func TestConsumeTokenUnknown(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)

	if _, err := store.ConsumeTokenAndLink(context.Background(), "nope", 1, time.Now()); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestChatConflictKeepsToken(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.InsertToken(ctx, 1, "tok-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-a", 77, now); err != nil {
		t.Fatalf("link user 1: %v", err)
	}

	// Another user tries to claim the same chat.
	if _, err := store.InsertToken(ctx, 2, "tok-b", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-b", 77, now); !errors.Is(err, ErrChatAlreadyLinked) {
		t.Fatalf("expected ErrChatAlreadyLinked, got %v", err)
	}

	// The losing token survives so user 2 can retry with another chat.
	userID, err := store.ConsumeTokenAndLink(ctx, "tok-b", 78, now)
	if err != nil {
		t.Fatalf("retry with free chat: %v", err)
	}
	if userID != 2 {
		t.Fatalf("expected user 2, got %d", userID)
	}
}

func TestSameUserSameChatIdempotent(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.InsertToken(ctx, 1, "tok-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-a", 77, now); err != nil {
		t.Fatalf("initial link: %v", err)
	}

	// The same user re-verifies their own chat with a fresh token.
	if _, err := store.InsertToken(ctx, 1, "tok-b", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	userID, err := store.ConsumeTokenAndLink(ctx, "tok-b", 77, now)
	if err != nil {
		t.Fatalf("idempotent re-link: %v", err)
	}
	if userID != 1 {
		t.Fatalf("expected user 1, got %d", userID)
	}

	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM telegram_links`); err != nil {
		t.Fatalf("count links: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one link row, got %d", count)
	}
}

func TestRelinkReplacesUsersChat(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.InsertToken(ctx, 1, "tok-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-a", 77, now); err != nil {
		t.Fatalf("initial link: %v", err)
	}
	if err := store.SetNotifyEnabled(ctx, 77, false); err != nil {
		t.Fatalf("disable notifications: %v", err)
	}

	if _, err := store.InsertToken(ctx, 1, "tok-b", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-b", 88, now); err != nil {
		t.Fatalf("re-link to new chat: %v", err)
	}

	link, err := store.GetLinkByUserID(ctx, 1)
	if err != nil {
		t.Fatalf("load link: %v", err)
	}
	if link.ChatID != 88 {
		t.Fatalf("expected chat 88, got %d", link.ChatID)
	}
	if link.NotifyEnabled {
		t.Fatal("notify flag must survive a re-link")
	}
	if _, err := store.GetLinkByChatID(ctx, 77); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("old chat must be unbound, got %v", err)
	}
}

func TestInsertTokenDuplicate(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)
	ctx := context.Background()
	expires := time.Now().Add(time.Minute)

	if _, err := store.InsertToken(ctx, 1, "tok-dup", expires); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := store.InsertToken(ctx, 2, "tok-dup", expires); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken, got %v", err)
	}
}

func TestSetNotifyEnabledUnlinkedChat(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)

	if err := store.SetNotifyEnabled(context.Background(), 12345, true); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestDeleteUserDataCascades(t *testing.T) {
	db := newTestDB(t)
	store := NewLinkStore(db)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.InsertToken(ctx, 1, "tok-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := store.ConsumeTokenAndLink(ctx, "tok-a", 77, now); err != nil {
		t.Fatalf("link: %v", err)
	}
	if _, err := store.InsertToken(ctx, 1, "tok-b", now.Add(time.Minute)); err != nil {
		t.Fatalf("insert second token: %v", err)
	}

	if err := store.DeleteUserData(ctx, 1); err != nil {
		t.Fatalf("delete user data: %v", err)
	}

	if _, err := store.GetLinkByUserID(ctx, 1); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("link must be gone, got %v", err)
	}
	var tokens int
	if err := db.Get(&tokens, `SELECT COUNT(*) FROM tg_link_tokens WHERE user_id = 1`); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if tokens != 0 {
		t.Fatalf("expected no tokens left, got %d", tokens)
	}
}
