// Package session holds the BaaS session boundary: a validated Session model parsed from the
// provider payload, a Store that acts as the Gateway's token source and publishes auth state
// changes, and a Bootstrapper that fetches the initial session with retries, timeouts and a
// circuit breaker.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// ErrInvalidSession is returned when a provider payload does not match the expected shape.
var ErrInvalidSession = errors.New("invalid session")

// UserMetadata is the free-form profile data the provider stores with the user.
type UserMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Name      string `json:"name,omitempty"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

// DisplayName returns the best available human name.
func (m UserMetadata) DisplayName() string {
	switch {
	case m.FullName != "":
		return m.FullName
	case m.Name != "":
		return m.Name
	default:
		return m.Username
	}
}

// User is the authenticated account.
type User struct {
	CreatedAt    time.Time    `json:"created_at"`
	ID           string       `json:"id" validate:"required"`
	Email        string       `json:"email" validate:"required,email"`
	UserMetadata UserMetadata `json:"user_metadata"`
}

// Session is a validated provider session.
type Session struct {
	ExpiresAt    time.Time `json:"-"`
	AccessToken  string    `json:"access_token" validate:"required"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	User         User      `json:"user" validate:"required"`
}

// Expired reports whether the access token is past its expiry at now.
// A session without a known expiry never expires locally.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// wireSession is the provider payload. expires_at is unix seconds.
type wireSession struct {
	Session
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Parse decodes and validates a provider session payload. It fails closed: unknown shapes,
// missing fields, a malformed access token, or a token whose subject differs from the user id
// all return an error wrapping ErrInvalidSession.
func Parse(raw []byte) (*Session, error) {
	var wire wireSession
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, err.Error())
	}

	s := wire.Session
	if err := resilience.Validate(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return nil, fmt.Errorf("%w: access token: %s", ErrInvalidSession, err.Error())
	}
	if claims.Subject != "" && claims.Subject != s.User.ID {
		return nil, fmt.Errorf("%w: token subject does not match user", ErrInvalidSession)
	}

	switch {
	case claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	case wire.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(wire.ExpiresAt, 0)
	}

	return &s, nil
}
