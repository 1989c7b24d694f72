// Package session persists the phone-verification session between CLI
// invocations.
//
// The record lives at ~/.dulayni/session.json as
// {"phone_number", "auth_token", "expiry_time"} with expiry_time in unix
// seconds. Nothing guards the file against concurrent invocations; the last
// writer wins.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/kajande/dulayni-cli/internal/constants"
)

// Session binds a phone identity to a bearer token. ExpiresAt is persisted
// with millisecond precision, so only values already truncated to the
// millisecond survive Save and Load unchanged.
type Session struct {
	PhoneNumber string
	AuthToken   string
	ExpiresAt   time.Time
}

// ValidAt reports whether the session can be used at now: the token must be
// present and the expiry still in the future.
func (s *Session) ValidAt(now time.Time) bool {
	if s == nil || s.AuthToken == "" {
		return false
	}
	return now.Before(s.ExpiresAt)
}

type record struct {
	PhoneNumber string  `json:"phone_number"`
	AuthToken   string  `json:"auth_token"`
	ExpiryTime  float64 `json:"expiry_time"`
}

// Expiry is stored with millisecond precision.
func toRecord(s Session) record {
	return record{
		PhoneNumber: s.PhoneNumber,
		AuthToken:   s.AuthToken,
		ExpiryTime:  float64(s.ExpiresAt.UnixMilli()) / 1000,
	}
}

func (r record) session() *Session {
	return &Session{
		PhoneNumber: r.PhoneNumber,
		AuthToken:   r.AuthToken,
		ExpiresAt:   time.UnixMilli(int64(math.Round(r.ExpiryTime * 1000))),
	}
}

// Store reads and writes the session file. It is the only thing that
// touches that file.
type Store struct {
	path string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// DefaultPath returns ~/.dulayni/session.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, constants.StateDirName, constants.SessionFileName), nil
}

// NewStore creates a store backed by path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDefaultStore creates a store at DefaultPath.
func NewDefaultStore(opts ...Option) (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return NewStore(path, opts...), nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored session. A missing or malformed file yields
// (nil, nil); only unexpected I/O failures are returned as errors.
func (s *Store) Load() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, nil
	}
	return r.session(), nil
}

// Save writes sess. The record goes to a temp file in the same directory
// and is renamed into place, so a concurrent Load sees either the old or the
// new record.
func (s *Store) Save(sess Session) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(toRecord(sess), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set session permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}
	return nil
}

// Clear removes the session file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// IsValid reports whether sess is usable right now.
func (s *Store) IsValid(sess *Session) bool {
	return sess.ValidAt(s.now())
}

// Now exposes the store's clock so callers stamp expiries consistently.
func (s *Store) Now() time.Time {
	return s.now()
}
