package display

import (
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// Spinner shows progress on stderr while waiting for the agent. On a
// non-terminal writer it does nothing.
type Spinner struct {
	mu      sync.Mutex
	s       *spinner.Spinner
	running bool
}

// NewSpinner creates a spinner writing to stderr.
func NewSpinner(message string) *Spinner {
	if !isTerminal(os.Stderr) {
		return &Spinner{}
	}
	return newSpinner(os.Stderr, message)
}

func newSpinner(f *os.File, message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriterFile(f))
	s.Suffix = " " + message
	return &Spinner{s: s}
}

// Start begins the animation.
func (sp *Spinner) Start() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil || sp.running {
		return
	}
	sp.s.Start()
	sp.running = true
}

// Stop clears the animation. Stopping a stopped spinner is a no-op.
func (sp *Spinner) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil || !sp.running {
		return
	}
	sp.s.Stop()
	sp.running = false
}

// Running reports whether the animation is visible.
func (sp *Spinner) Running() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.running
}

// UpdateMessage changes the text next to the animation.
func (sp *Spinner) UpdateMessage(message string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil {
		return
	}
	sp.s.Lock()
	sp.s.Suffix = " " + message
	sp.s.Unlock()
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
