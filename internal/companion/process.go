package companion

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Process is a handle on a spawned helper.
type Process interface {
	Pid() int
	// Alive reports whether the process has not exited yet.
	Alive() bool
	// Terminate asks the process to exit.
	Terminate() error
	// Kill stops the process immediately.
	Kill() error
	// Wait blocks until the process exits or timeout elapses.
	Wait(timeout time.Duration) error
}

// Spawner starts filesystem helpers.
type Spawner interface {
	Spawn(port int, dirs []string) (Process, error)
}

// ExecSpawner re-executes the current binary as "fs-server".
type ExecSpawner struct {
	// Executable defaults to os.Executable().
	Executable string
	// Subcommand defaults to "fs-server".
	Subcommand string
	// Stderr receives the helper's error output; nil discards it.
	Stderr io.Writer
}

// Spawn implements Spawner. The child runs in its own session so a Ctrl-C
// at the prompt does not reach it before cleanup does.
func (s ExecSpawner) Spawn(port int, dirs []string) (Process, error) {
	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}
	sub := s.Subcommand
	if sub == "" {
		sub = "fs-server"
	}

	args := append([]string{sub, "--port", strconv.Itoa(port)}, dirs...)
	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start filesystem helper: %w", err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.reap()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) reap() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Terminate() error {
	if !p.Alive() {
		return nil
	}
	return terminate(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Wait(timeout time.Duration) error {
	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}
