package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// RefreshFunc obtains a fresh auth token when the current one expires. The
// session bootstrap itself lives outside this module.
type RefreshFunc func(ctx context.Context) (string, error)

// Session holds the auth token produced by the platform's login flow and
// tracks its expiry so callers never present a stale token.
type Session struct {
	mu      sync.RWMutex
	token   string
	expiry  time.Time
	refresh RefreshFunc
}

func NewSession(token string) *Session {
	s := &Session{}
	s.SetToken(token)
	return s
}

// OnRefresh installs the token refresh callback.
func (s *Session) OnRefresh(fn RefreshFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = fn
}

// SetToken stores a token, reading its expiry from the JWT claims without
// verifying the signature. Verification is the server's job; the client only
// needs the deadline.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiry = time.Time{}

	if token == "" {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.expiry = exp.Time
	}
}

// Token returns a usable auth token, refreshing first when the current one
// has expired and a refresh callback is installed.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	expiry := s.expiry
	refresh := s.refresh
	s.mu.RUnlock()

	if token == "" {
		return "", ErrNotAuthenticated
	}
	if expiry.IsZero() || time.Now().Before(expiry) {
		return token, nil
	}
	if refresh == nil {
		return "", ErrNotAuthenticated
	}

	fresh, err := refresh(ctx)
	if err != nil {
		return "", err
	}
	s.SetToken(fresh)
	return fresh, nil
}

// Active reports whether a token is present, expired or not. The realtime
// channel uses it to decide whether reconnecting is worthwhile.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Clear drops the token on logout.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiry = time.Time{}
}
