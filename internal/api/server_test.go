package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/notifybot/internal/linking"
	"github.com/user/notifybot/internal/queue"
	"github.com/user/notifybot/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.LinkStore, *storage.QueueStore) {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	links := storage.NewLinkStore(db)
	events := storage.NewQueueStore(db)
	issuer := linking.NewService(links, 15*time.Minute, 10, 3)
	producer := queue.NewProducer(events)
	return NewServer(issuer, producer, links, 5*time.Minute), links, events
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestIssueTokenEndpoint(t *testing.T) {
	s, links, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/users/42/link-token", `{"ttl_seconds":600}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}

	// The issued token really verifies.
	userID, err := links.ConsumeTokenAndLink(context.Background(), resp.Token, 77, time.Now())
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user 42, got %d", userID)
	}
}

func TestIssueTokenRejectsExcessiveTTL(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/users/42/link-token", `{"ttl_seconds":86400}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIssueTokenInvalidUser(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/users/abc/link-token", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEnqueueEventEndpoint(t *testing.T) {
	s, _, events := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/events",
		`{"type":"deadline_created","payload":{"user_id":1,"title":"lab 3","due_at":"2026-09-10T12:00:00Z"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	ev, err := events.GetEvent(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("load event: %v", err)
	}
	if ev.Type != "deadline_created" || ev.Processed() {
		t.Fatalf("unexpected event state: %+v", ev)
	}
}

func TestEnqueueEventRejectsBadPayload(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/events", `{"type":"deadline_created","payload":{"user_id":1}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/api/events", `{"type":"mystery","payload":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}
}

func TestDeleteUserEndpoint(t *testing.T) {
	s, links, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := links.InsertToken(ctx, 7, "tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if _, err := links.ConsumeTokenAndLink(ctx, "tok", 77, time.Now()); err != nil {
		t.Fatalf("link chat: %v", err)
	}

	rec := doRequest(t, s, http.MethodDelete, "/api/users/7", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := links.GetLinkByUserID(ctx, 7); err == nil {
		t.Fatal("link must be gone after user deletion")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
