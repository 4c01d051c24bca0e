package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// sessionServer is a minimal controller session endpoint for tests.
type sessionServer struct {
	*httptest.Server
	created atomic.Int32
	deleted atomic.Int32
	status  int // non-zero forces this status on create
	ttl     int64
}

func newSessionServer() *sessionServer {
	s := &sessionServer{ttl: 3600}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if s.status != 0 {
			http.Error(w, "nope", s.status)
			return
		}
		n := s.created.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"session_id":           "session-" + string(rune('0'+n)),
				"websocket_url":        "ws://controller/ws",
				"authentication_token": "opaque-token",
				"expires_in":           s.ttl,
			},
		})
	})
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.deleted.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	s.Server = httptest.NewServer(mux)
	return s
}

func TestAcquireIssuesAndCachesSession(t *testing.T) {
	server := newSessionServer()
	defer server.Close()

	a := NewAuthenticator(Config{BaseURL: server.URL, DeviceID: "agent-1"})

	ctx := context.Background()
	first, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if first.Token != "opaque-token" || first.WebSocketURL != "ws://controller/ws" {
		t.Errorf("unexpected session: %+v", first)
	}

	second, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if first != second {
		t.Error("valid session should be reused")
	}
	if server.created.Load() != 1 {
		t.Errorf("expected 1 session creation, got %d", server.created.Load())
	}
}

func TestAcquireRefreshesInsideRenewalMargin(t *testing.T) {
	server := newSessionServer()
	defer server.Close()
	server.ttl = 60 // 1 minute, inside the 5 minute margin

	a := NewAuthenticator(Config{BaseURL: server.URL})

	ctx := context.Background()
	if _, err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := a.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	// Both calls should hit the endpoint: the session is always within
	// its renewal margin.
	if server.created.Load() != 2 {
		t.Errorf("expected refresh inside the margin, creations=%d", server.created.Load())
	}
}

func TestAcquireRejected(t *testing.T) {
	server := newSessionServer()
	defer server.Close()
	server.status = http.StatusForbidden

	a := NewAuthenticator(Config{BaseURL: server.URL})

	_, err := a.Acquire(context.Background())
	if !errors.Is(err, ErrSessionRejected) {
		t.Errorf("expected ErrSessionRejected for 4xx, got %v", err)
	}
}

func TestAcquireUnavailable(t *testing.T) {
	server := newSessionServer()
	defer server.Close()
	server.status = http.StatusInternalServerError

	a := NewAuthenticator(Config{BaseURL: server.URL})

	_, err := a.Acquire(context.Background())
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("expected ErrSessionUnavailable for 5xx, got %v", err)
	}

	// Unreachable endpoint is the same class of failure.
	down := NewAuthenticator(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := down.Acquire(context.Background()); !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("expected ErrSessionUnavailable for network failure, got %v", err)
	}
}

func TestInvalidateForcesFreshSession(t *testing.T) {
	server := newSessionServer()
	defer server.Close()

	a := NewAuthenticator(Config{BaseURL: server.URL})

	ctx := context.Background()
	if _, err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	a.Invalidate()
	if a.Current() != nil {
		t.Error("Invalidate should drop the cached session")
	}
	if _, err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after Invalidate failed: %v", err)
	}
	if server.created.Load() != 2 {
		t.Errorf("expected a fresh session after Invalidate, creations=%d", server.created.Load())
	}
}

func TestDelete(t *testing.T) {
	server := newSessionServer()
	defer server.Close()

	a := NewAuthenticator(Config{BaseURL: server.URL})

	ctx := context.Background()
	if _, err := a.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := a.Delete(ctx); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if server.deleted.Load() != 1 {
		t.Errorf("expected 1 deletion, got %d", server.deleted.Load())
	}
	if a.Current() != nil {
		t.Error("Delete should clear the cached session")
	}

	// Without a session Delete is a no-op.
	if err := a.Delete(ctx); err != nil {
		t.Errorf("Delete without session failed: %v", err)
	}
}

func TestAutoGeneratedDeviceID(t *testing.T) {
	a := NewAuthenticator(Config{BaseURL: "http://controller"})
	if a.DeviceID() == "" {
		t.Error("device id should be auto-generated")
	}
}

func TestSessionAuthenticatedURL(t *testing.T) {
	s := &Session{Token: "tok en", WebSocketURL: "ws://controller/ws?v=1"}
	u, err := s.AuthenticatedURL()
	if err != nil {
		t.Fatalf("AuthenticatedURL failed: %v", err)
	}
	if u != "ws://controller/ws?token=tok+en&v=1" {
		t.Errorf("unexpected url: %s", u)
	}
}

func TestSessionValidFor(t *testing.T) {
	s := &Session{IssuedAt: time.Now(), TTL: time.Hour}
	if !s.ValidFor(5 * time.Minute) {
		t.Error("fresh session should be valid")
	}
	if s.ValidFor(2 * time.Hour) {
		t.Error("margin past expiry should report stale")
	}

	stale := &Session{IssuedAt: time.Now().Add(-time.Hour), TTL: time.Hour}
	if stale.ValidFor(time.Minute) {
		t.Error("expired session should be stale")
	}
}

func TestTokenExpiryFromJWT(t *testing.T) {
	// Header {"alg":"none"} and a payload with exp 2000-01-01T00:00:00Z.
	// Unsigned: the agent only reads the expiry hint.
	token := "eyJhbGciOiJub25lIn0.eyJleHAiOjk0NjY4NDgwMH0."

	exp := tokenExpiry(token)
	if exp.IsZero() {
		t.Fatal("expected an expiry from the JWT")
	}
	if exp.UTC().Year() != 2000 {
		t.Errorf("unexpected expiry: %v", exp)
	}

	if !tokenExpiry("opaque").IsZero() {
		t.Error("opaque token should have no expiry")
	}
}
