// Package auth owns the provider session: login, re-login after expiry, and
// the terminal failure state when credentials are rejected.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rickgao/barfeed/internal/api"
)

// Credentials identify the account used to log in.
type Credentials struct {
	Identifier string
	Password   string
}

// Validate checks that both fields are set.
func (c Credentials) Validate() error {
	if c.Identifier == "" {
		return errors.New("identifier is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// Authenticator is the provider login surface.
type Authenticator interface {
	CreateSession(ctx context.Context, identifier, password string) (*api.Session, error)
	DeleteSession(ctx context.Context, s *api.Session) error
}

// State is the session lifecycle state.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AuthFailure is fatal: the session cannot be (re-)established.
type AuthFailure struct {
	Reason string
	Err    error
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("auth failure: %s: %v", e.Reason, e.Err)
}

func (e *AuthFailure) Unwrap() error { return e.Err }

// Config controls login retries.
type Config struct {
	MaxAttempts    int           // Failed logins in a row before giving up (default: 5)
	InitialBackoff time.Duration // First retry delay (default: 1s)
	MaxBackoff     time.Duration // Retry delay cap (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Manager serialises every session transition behind one mutex.
type Manager struct {
	cfg    Config
	client Authenticator
	creds  Credentials
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	session  *api.Session
	failure  *AuthFailure
	attempts int // failed logins since the last success, across calls
}

// NewManager creates a Manager in the Unauthenticated state.
func NewManager(cfg Config, client Authenticator, creds Credentials, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Manager{
		cfg:    cfg,
		client: client,
		creds:  creds,
		logger: logger,
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureSession returns the current session, logging in if there is none.
// Once the manager has failed every call returns the same *AuthFailure.
//
// Failed logins count across calls until one succeeds. A caller whose
// context ends first gets the context error while attempts remain; the
// call that uses up MaxAttempts moves the manager to Failed.
func (m *Manager) EnsureSession(ctx context.Context) (*api.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Failed:
		return nil, m.failure
	case Authenticated:
		return m.session, nil
	}

	s, err := m.login(ctx)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, errMissingCredentials) && !rejected(err) && m.attempts < m.cfg.MaxAttempts {
			return nil, ctx.Err()
		}
		m.state = Failed
		m.failure = &AuthFailure{Reason: failureReason(err), Err: err}
		m.logger.Error("authentication failed", "reason", m.failure.Reason, "error", err)
		return nil, m.failure
	}

	m.session = s
	m.state = Authenticated
	m.attempts = 0
	m.logger.Info("session established", "account_id", s.AccountID)
	return s, nil
}

// Invalidate drops s after the provider rejected it. A stale handle from an
// earlier session is ignored, so concurrent callers trigger one re-login.
func (m *Manager) Invalidate(s *api.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Authenticated || m.session != s {
		return
	}
	m.state = Unauthenticated
	m.session = nil
	m.logger.Info("session invalidated")
}

// Close logs out. Errors are logged, not returned, since the process is
// shutting down anyway.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return
	}
	if err := m.client.DeleteSession(ctx, m.session); err != nil {
		m.logger.Warn("logout failed", "error", err)
	}
	m.session = nil
	if m.state == Authenticated {
		m.state = Unauthenticated
	}
}

func (m *Manager) login(ctx context.Context) (*api.Session, error) {
	if err := m.creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errMissingCredentials, err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.cfg.InitialBackoff
	expo.MaxInterval = m.cfg.MaxBackoff
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(expo, ctx)

	var session *api.Session
	op := func() error {
		s, err := m.client.CreateSession(ctx, m.creds.Identifier, m.creds.Password)
		if err != nil {
			if rejected(err) {
				return backoff.Permanent(err)
			}
			// Cancellation does not count against MaxAttempts.
			if errors.Is(ctx.Err(), context.Canceled) {
				return backoff.Permanent(err)
			}
			m.attempts++
			if m.attempts >= m.cfg.MaxAttempts {
				return backoff.Permanent(fmt.Errorf("%d login attempts failed: %w", m.attempts, err))
			}
			return err
		}
		session = s
		return nil
	}
	notify := func(err error, d time.Duration) {
		m.logger.Warn("login failed, retrying", "error", err, "backoff", d)
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, err
	}
	return session, nil
}

// rejected reports whether the provider refused the credentials themselves,
// as opposed to a transient failure worth retrying.
func rejected(err error) bool {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, api.ErrRateLimited) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

var errMissingCredentials = errors.New("missing credentials")

func failureReason(err error) string {
	switch {
	case errors.Is(err, errMissingCredentials):
		return "missing credentials"
	case rejected(err):
		return "credentials rejected"
	default:
		return "session could not be established"
	}
}
