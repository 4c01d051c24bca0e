package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Authentication errors.
var (
	// ErrSessionRejected indicates the controller refused to issue a session.
	ErrSessionRejected = errors.New("session request rejected")

	// ErrSessionUnavailable indicates the controller could not be reached.
	// This is a retryable connectivity error.
	ErrSessionUnavailable = errors.New("session endpoint unavailable")
)

// Config configures an Authenticator.
type Config struct {
	// BaseURL is the controller's REST base (e.g. "http://controller:8003").
	BaseURL string

	// DeviceID identifies this agent to the controller.
	// Auto-generated when empty.
	DeviceID string

	// Provider is the provider label sent with session requests.
	Provider string

	// Platform is reported in the session configuration.
	Platform string

	// RenewalMargin is how long before expiry sessions are refreshed.
	// Defaults to DefaultRenewalMargin.
	RenewalMargin time.Duration

	// HTTPClient performs the REST calls. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client
}

// Authenticator issues and caches controller sessions.
// It is safe for concurrent use: many readers may call Acquire while a
// single refresh is in flight.
type Authenticator struct {
	config Config

	mu      sync.Mutex
	current *Session
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(config Config) *Authenticator {
	if config.DeviceID == "" {
		config.DeviceID = "agent-" + uuid.NewString()[:8]
	}
	if config.Provider == "" {
		config.Provider = "LOCAL_AGENT"
	}
	if config.RenewalMargin <= 0 {
		config.RenewalMargin = DefaultRenewalMargin
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Authenticator{config: config}
}

// DeviceID returns the identity this authenticator presents to the controller.
func (a *Authenticator) DeviceID() string {
	return a.config.DeviceID
}

// Acquire returns a session valid for at least the renewal margin,
// refreshing transparently when the cached one is stale.
func (a *Authenticator) Acquire(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && a.current.ValidFor(a.config.RenewalMargin) {
		return a.current, nil
	}

	session, err := a.createSession(ctx)
	if err != nil {
		return nil, err
	}
	a.current = session
	return session, nil
}

// Invalidate discards the cached session so the next Acquire issues a
// fresh one. Called when the controller closes the connection with an
// authentication failure.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
}

// Current returns the cached session without refreshing, or nil.
func (a *Authenticator) Current() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// sessionRequest is the session creation payload.
type sessionRequest struct {
	DeviceID      string            `json:"device_id"`
	SessionID     string            `json:"session_id"`
	Provider      string            `json:"provider"`
	Configuration map[string]string `json:"configuration"`
}

// sessionResponse is the controller's session creation reply.
type sessionResponse struct {
	Status string `json:"status"`
	Data   struct {
		SessionID           string `json:"session_id"`
		WebSocketURL        string `json:"websocket_url"`
		AuthenticationToken string `json:"authentication_token"`
		ExpiresIn           int64  `json:"expires_in,omitempty"` // seconds
	} `json:"data"`
}

// createSession performs the REST call. Caller holds the lock.
func (a *Authenticator) createSession(ctx context.Context) (*Session, error) {
	reqBody := sessionRequest{
		DeviceID:  a.config.DeviceID,
		SessionID: "session-" + uuid.NewString(),
		Provider:  a.config.Provider,
		Configuration: map[string]string{
			"platform": a.config.Platform,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	url := a.config.BaseURL + "/v1/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSessionUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrSessionUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrSessionRejected, resp.StatusCode)
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSessionRejected, err)
	}
	if sr.Status != "success" {
		return nil, fmt.Errorf("%w: status %q", ErrSessionRejected, sr.Status)
	}
	if sr.Data.WebSocketURL == "" || sr.Data.AuthenticationToken == "" {
		return nil, fmt.Errorf("%w: incomplete session data", ErrSessionRejected)
	}

	now := time.Now()
	ttl := DefaultTTL
	if sr.Data.ExpiresIn > 0 {
		ttl = time.Duration(sr.Data.ExpiresIn) * time.Second
	}
	// A JWT exp claim overrides the reported TTL.
	if exp := tokenExpiry(sr.Data.AuthenticationToken); !exp.IsZero() {
		ttl = time.Until(exp)
	}

	return &Session{
		ID:           sr.Data.SessionID,
		Token:        sr.Data.AuthenticationToken,
		WebSocketURL: sr.Data.WebSocketURL,
		IssuedAt:     now,
		TTL:          ttl,
	}, nil
}

// Delete tears down the current session on the controller, best effort.
// A 404 counts as success (the session is already gone).
func (a *Authenticator) Delete(ctx context.Context) error {
	a.mu.Lock()
	session := a.current
	a.current = nil
	a.mu.Unlock()

	if session == nil {
		return nil
	}

	url := a.config.BaseURL + "/v1/sessions/" + session.ID
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete session: status %d", resp.StatusCode)
	}
	return nil
}
