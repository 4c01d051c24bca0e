package auth

import (
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session defaults.
const (
	// DefaultTTL is assumed when the controller reports no expiry and the
	// token carries no exp claim.
	DefaultTTL = time.Hour

	// DefaultRenewalMargin is how long before expiry a session is
	// considered stale and refreshed.
	DefaultRenewalMargin = 5 * time.Minute
)

// Session is one issued controller session.
// Sessions are immutable; the Authenticator swaps in a fresh one atomically.
type Session struct {
	// ID is the controller-assigned session identifier.
	ID string

	// Token is the bearer token authenticating the WebSocket connection.
	Token string

	// WebSocketURL is the endpoint to dial, without the token.
	WebSocketURL string

	// IssuedAt is when the session was created locally.
	IssuedAt time.Time

	// TTL is the session lifetime.
	TTL time.Duration
}

// ExpiresAt returns the moment the session becomes unusable.
func (s *Session) ExpiresAt() time.Time {
	return s.IssuedAt.Add(s.TTL)
}

// ValidFor reports whether the session is still usable at least margin
// before expiry.
func (s *Session) ValidFor(margin time.Duration) bool {
	return time.Until(s.ExpiresAt()) > margin
}

// AuthenticatedURL returns the WebSocket URL with the token attached as a
// query parameter, the form the controller's gateway expects.
func (s *Session) AuthenticatedURL() (string, error) {
	u, err := url.Parse(s.WebSocketURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", s.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// tokenExpiry extracts the exp claim when the token is a JWT.
// Opaque tokens return a zero time; the caller falls back to the
// controller-reported TTL. The signature is deliberately not verified —
// the agent only needs the expiry hint, the controller enforces validity.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
