package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kajande/dulayni-cli/internal/api"
	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/constants"
	"github.com/kajande/dulayni-cli/internal/logging"
	"github.com/kajande/dulayni-cli/internal/session"
)

// DefaultMaxAttempts is how many codes Authenticate asks for before giving up.
const DefaultMaxAttempts = 3

var (
	// ErrNoVerification is returned by Verify when no code was requested.
	ErrNoVerification = errors.New("no verification in progress")
	// ErrNoPrompt is returned when phone verification is needed but no code
	// prompt was configured.
	ErrNoPrompt = errors.New("verification code required but no prompt is available")
)

// State is the authentication state of a Coordinator.
type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingVerification
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAwaitingVerification:
		return "awaiting_verification"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Backend is the part of the agent client the coordinator drives.
// *api.Client satisfies it.
type Backend interface {
	RequestVerificationCode(ctx context.Context, phone string) (*api.VerificationRequest, error)
	VerifyCode(ctx context.Context, sessionID, code string) (*api.VerificationResult, error)
	SetAPIKey(key string)
	SetAuthToken(token string)
	SetPhoneNumber(phone string)
	ClearAuth()
}

// SessionStore persists phone sessions. *session.Store satisfies it.
type SessionStore interface {
	Load() (*session.Session, error)
	Save(session.Session) error
	Clear() error
	IsValid(*session.Session) bool
	Now() time.Time
}

// CodePrompt asks the user for the code sent to phone.
type CodePrompt func(ctx context.Context, phone string) (string, error)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPrompt sets the verification code prompt.
func WithPrompt(p CodePrompt) Option {
	return func(c *Coordinator) { c.prompt = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMaxAttempts bounds the codes asked for by Authenticate.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// Coordinator runs the authentication state machine:
//
//	phone: Unauthenticated -> AwaitingVerification -> Authenticated
//	key:   Unauthenticated -> Authenticated
//
// A valid stored session for the same phone skips verification. An
// expired-credential signal from the service sends any state back to
// Unauthenticated.
type Coordinator struct {
	backend     Backend
	store       SessionStore
	prompt      CodePrompt
	logger      *logging.Logger
	maxAttempts int

	mu        sync.Mutex
	state     State
	identity  config.Identity
	phone     string
	sessionID string
	token     string
}

// NewCoordinator creates a Coordinator. store may be nil when only key
// authentication is used.
func NewCoordinator(backend Backend, store SessionStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:     backend,
		store:       store,
		logger:      logging.Discard(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the identity of the last Authenticate call.
func (c *Coordinator) Identity() config.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Authenticate makes the backend usable for id. Key identities are accepted
// without a network call. Phone identities reuse a valid stored session for
// the same number, and otherwise go through verification, asking the prompt
// for up to maxAttempts codes.
func (c *Coordinator) Authenticate(ctx context.Context, id config.Identity) error {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	switch id.Method {
	case config.MethodKey:
		c.backend.SetAPIKey(id.APIKey)
		c.setAuthenticated("")
		c.logger.Debug("using API key authentication")
		return nil
	case config.MethodPhone:
		return c.authenticatePhone(ctx, id.PhoneNumber)
	default:
		return &config.ConfigurationError{Err: config.ErrNoCredentials}
	}
}

func (c *Coordinator) authenticatePhone(ctx context.Context, phone string) error {
	c.backend.SetPhoneNumber(phone)

	if sess := c.storedSession(phone); sess != nil {
		c.backend.SetAuthToken(sess.AuthToken)
		c.setAuthenticated(sess.AuthToken)
		c.logger.Debug("reusing stored session", logging.Fields{
			"expires_at": sess.ExpiresAt.Format(time.RFC3339),
		})
		return nil
	}

	if c.prompt == nil {
		return ErrNoPrompt
	}
	if _, err := c.Begin(ctx, phone); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		code, err := c.prompt(ctx, phone)
		if err != nil {
			c.reset()
			return fmt.Errorf("reading verification code: %w", err)
		}

		lastErr = c.Verify(ctx, code)
		if lastErr == nil {
			return nil
		}

		var authErr *api.AuthenticationError
		if !errors.As(lastErr, &authErr) {
			return lastErr
		}
		c.logger.Warn("verification failed", logging.Fields{
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
	}
	c.clearPending()
	return lastErr
}

// storedSession returns the persisted session when it is valid for phone.
func (c *Coordinator) storedSession(phone string) *session.Session {
	if c.store == nil {
		return nil
	}
	sess, err := c.store.Load()
	if err != nil {
		c.logger.Warn("cannot read stored session", logging.Fields{"error": err.Error()})
		return nil
	}
	if sess == nil || sess.PhoneNumber != phone || !c.store.IsValid(sess) {
		return nil
	}
	return sess
}

// Begin requests a verification code for phone and moves to
// AwaitingVerification.
func (c *Coordinator) Begin(ctx context.Context, phone string) (*api.VerificationRequest, error) {
	req, err := c.backend.RequestVerificationCode(ctx, phone)
	if err != nil {
		c.reset()
		return nil, err
	}
	if req.Skipped() {
		c.setAuthenticated("")
		return req, nil
	}

	c.mu.Lock()
	c.state = StateAwaitingVerification
	c.phone = phone
	c.sessionID = req.SessionID
	c.mu.Unlock()
	return req, nil
}

// Verify submits code for the pending verification. On success the token
// is installed and persisted for constants.SessionTTL. On failure the state
// drops back to Unauthenticated; the pending verification is kept so the
// caller can retry with another code.
func (c *Coordinator) Verify(ctx context.Context, code string) error {
	c.mu.Lock()
	sessionID, phone := c.sessionID, c.phone
	c.mu.Unlock()
	if sessionID == "" {
		return ErrNoVerification
	}

	res, err := c.backend.VerifyCode(ctx, sessionID, code)
	if err != nil {
		c.mu.Lock()
		c.state = StateUnauthenticated
		c.mu.Unlock()
		return err
	}
	if res.Skipped() {
		c.setAuthenticated("")
		return nil
	}

	c.backend.SetAuthToken(res.AuthToken)
	c.setAuthenticated(res.AuthToken)

	if c.store != nil {
		sess := session.Session{
			PhoneNumber: phone,
			AuthToken:   res.AuthToken,
			ExpiresAt:   c.store.Now().Add(constants.SessionTTL).Truncate(time.Millisecond),
		}
		if err := c.store.Save(sess); err != nil {
			c.logger.Warn("cannot persist session", logging.Fields{"error": err.Error()})
		}
	}
	return nil
}

// HandleExpired reacts to the service rejecting the current credential.
// The in-memory token is dropped. The persisted session is cleared only
// when it still holds the rejected token, so a session written by another
// invocation survives.
func (c *Coordinator) HandleExpired() {
	c.mu.Lock()
	rejected := c.token
	c.state = StateUnauthenticated
	c.token = ""
	c.sessionID = ""
	c.mu.Unlock()

	c.backend.ClearAuth()

	if rejected == "" || c.store == nil {
		return
	}
	sess, err := c.store.Load()
	if err != nil || sess == nil || sess.AuthToken != rejected {
		return
	}
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("cannot clear rejected session", logging.Fields{"error": err.Error()})
	}
}

// Logout drops the in-memory credential and the persisted session.
func (c *Coordinator) Logout() error {
	c.reset()
	c.backend.ClearAuth()
	if c.store == nil {
		return nil
	}
	return c.store.Clear()
}

func (c *Coordinator) setAuthenticated(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateAuthenticated
	c.token = token
	c.sessionID = ""
}

func (c *Coordinator) clearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
}

func (c *Coordinator) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateUnauthenticated
	c.token = ""
	c.sessionID = ""
}
