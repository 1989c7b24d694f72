// Package history keeps a local record of interactive exchanges.
package history

// HistoryManager defines the interface for managing query history.
// This interface enables dependency injection and easier testing.
type HistoryManager interface {
	// Load reads the history from disk
	Load() error

	// Save writes the history to disk
	Save() error

	// Add records one exchange, dropping the oldest beyond the limit
	Add(entry Entry)

	// Last returns the most recent exchange
	Last() *Entry

	// Recent returns the N most recent exchanges, newest first
	Recent(n int) []Entry

	// Clear removes all history
	Clear()
}

// Ensure concrete type implements the interface
var _ HistoryManager = (*History)(nil)
