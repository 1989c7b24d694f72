package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSession_ValidAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sess *Session
		want bool
	}{
		{"nil session", nil, false},
		{"token and future expiry", &Session{AuthToken: "tok", ExpiresAt: now.Add(time.Minute)}, true},
		{"empty token", &Session{AuthToken: "", ExpiresAt: now.Add(time.Hour)}, false},
		{"expired", &Session{AuthToken: "tok", ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", &Session{AuthToken: "tok", ExpiresAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sess.ValidAt(now))
		})
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewStore(path)

	want := Session{
		PhoneNumber: "+221770000000",
		AuthToken:   "bearer-abc",
		ExpiresAt:   time.Date(2026, 3, 2, 8, 30, 15, 123_000_000, time.UTC),
	}
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, want.AuthToken, got.AuthToken)
	assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiry %v != %v", got.ExpiresAt, want.ExpiresAt)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStore_ExpiryPrecision(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"))
	exact := time.Date(2030, 1, 2, 3, 4, 5, 123_456_789, time.UTC)

	require.NoError(t, store.Save(Session{PhoneNumber: "+1", AuthToken: "t", ExpiresAt: exact}))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, exact.Truncate(time.Millisecond).UnixNano(), got.ExpiresAt.UnixNano())

	ms := exact.Truncate(time.Millisecond)
	require.NoError(t, store.Save(Session{PhoneNumber: "+1", AuthToken: "t", ExpiresAt: ms}))
	got, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, ms.UnixNano(), got.ExpiresAt.UnixNano())
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"))
	exp := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	require.NoError(t, store.Save(Session{PhoneNumber: "+1", AuthToken: "old", ExpiresAt: exp}))
	require.NoError(t, store.Save(Session{PhoneNumber: "+2", AuthToken: "new", ExpiresAt: exp}))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new", got.AuthToken)
	assert.Equal(t, "+2", got.PhoneNumber)

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_LoadWireFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	raw := `{"phone_number": "+15550100", "auth_token": "t", "expiry_time": 1767225600.5}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	got, err := NewStore(path).Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "+15550100", got.PhoneNumber)
	assert.Equal(t, int64(1767225600500), got.ExpiresAt.UnixMilli())
}

func TestStore_LoadMissingOrMalformed(t *testing.T) {
	dir := t.TempDir()

	got, err := NewStore(filepath.Join(dir, "absent.json")).Load()
	assert.NoError(t, err)
	assert.Nil(t, got)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0600))
	got, err = NewStore(bad).Load()
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Clear(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.json"))

	assert.NoError(t, store.Clear(), "clearing a missing session is not an error")

	require.NoError(t, store.Save(Session{AuthToken: "x", ExpiresAt: time.Now()}))
	require.NoError(t, store.Clear())

	got, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_IsValidUsesClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(filepath.Join(t.TempDir(), "s.json"), WithClock(fixedClock(now)))

	assert.True(t, store.IsValid(&Session{AuthToken: "t", ExpiresAt: now.Add(time.Second)}))
	assert.False(t, store.IsValid(&Session{AuthToken: "t", ExpiresAt: now.Add(-time.Second)}))
	assert.False(t, store.IsValid(nil))
	assert.Equal(t, now, store.Now())
}

func TestDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".dulayni", "session.json"), path)
}
