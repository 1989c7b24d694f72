package companion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kajande/dulayni-cli/internal/constants"
	"github.com/kajande/dulayni-cli/internal/logging"
)

var (
	// ErrPortInUse means the helper port is taken by something unhealthy.
	ErrPortInUse = errors.New("port already in use")
	// ErrNoTunnelID means the tunnel has no identifier to register under.
	ErrNoTunnelID = errors.New("tunnel identifier is required")
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithProber replaces the HTTP prober.
func WithProber(p Prober) Option { return func(s *Supervisor) { s.prober = p } }

// WithSpawner replaces the exec spawner.
func WithSpawner(sp Spawner) Option { return func(s *Supervisor) { s.spawner = sp } }

// WithEngine sets the tunnel engine. Without one, tunnels are unavailable.
func WithEngine(e TunnelEngine) Option { return func(s *Supervisor) { s.engine = e } }

// WithPortCheck replaces the free-port check.
func WithPortCheck(free func(port int) bool) Option {
	return func(s *Supervisor) { s.portFree = free }
}

// WithTimings overrides the start bound, the poll interval and the wait
// after terminating a helper.
func WithTimings(start, poll, stop time.Duration) Option {
	return func(s *Supervisor) {
		s.startTimeout, s.pollInterval, s.stopWait = start, poll, stop
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithWarn sets where user-facing warnings go.
func WithWarn(warn func(msg string)) Option { return func(s *Supervisor) { s.warn = warn } }

// Supervisor owns the companion processes of one CLI invocation. It only
// ever stops what it started itself; helpers found already healthy belong to
// someone else.
type Supervisor struct {
	prober       Prober
	spawner      Spawner
	engine       TunnelEngine
	portFree     func(int) bool
	startTimeout time.Duration
	pollInterval time.Duration
	stopWait     time.Duration
	logger       *logging.Logger
	warn         func(string)

	mu          sync.Mutex
	helpers     map[int]Process
	ownsTunnel  bool
	cleanupOnce sync.Once
}

// NewSupervisor creates a Supervisor with real probes and spawner.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		prober:       NewHTTPProber(),
		spawner:      ExecSpawner{},
		portFree:     portFree,
		startTimeout: constants.HelperStartTimeout,
		pollInterval: constants.HelperPollInterval,
		stopWait:     constants.HelperStopWait,
		logger:       logging.Discard(),
		warn:         func(string) {},
		helpers:      make(map[int]Process),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureFilesystemHelper makes sure a healthy helper serves port. A helper
// already healthy there is left alone and nil is returned. Otherwise one is
// spawned and polled; if it never turns healthy a warning is emitted and its
// handle is still returned so cleanup can reap it.
func (s *Supervisor) EnsureFilesystemHelper(ctx context.Context, port int, dirs []string) (Process, error) {
	if s.prober.Healthy(ctx, port) {
		s.logger.Debug("filesystem helper already running", logging.Fields{"port": port})
		return nil, nil
	}

	s.mu.Lock()
	if p, ok := s.helpers[port]; ok && p.Alive() {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	if !s.portFree(port) {
		return nil, fmt.Errorf("filesystem helper: %w: %d", ErrPortInUse, port)
	}

	p, err := s.spawner.Spawn(port, dirs)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.helpers[port] = p
	s.mu.Unlock()
	s.logger.Info("filesystem helper spawned", logging.Fields{"port": port, "pid": p.Pid()})

	err = waitUntil(ctx, s.startTimeout, s.pollInterval, func(ctx context.Context) bool {
		return s.prober.Healthy(ctx, port)
	})
	switch {
	case err == nil:
		s.logger.Info("filesystem helper healthy", logging.Fields{"port": port})
	case errors.Is(err, ErrWaitTimeout):
		s.warn(fmt.Sprintf("filesystem helper did not become healthy on port %d", port))
	default:
		return p, err
	}
	return p, nil
}

// StopFilesystemHelper asks the helper on port to shut down. Failures are
// swallowed; the result only says whether the request was accepted.
func (s *Supervisor) StopFilesystemHelper(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.ShutdownRequestTimeout)
	defer cancel()

	if err := s.prober.Shutdown(ctx, port); err != nil {
		s.logger.Debug("filesystem helper shutdown failed", logging.Fields{"port": port, "error": err.Error()})
		return false
	}
	return true
}

// EnsureTunnelSidecar makes sure a sidecar tagged with spec.ID runs. A
// running one is reused untouched. Otherwise the config files are written
// and the sidecar is launched when an engine is available. An unavailable
// engine is a warning, not an error.
func (s *Supervisor) EnsureTunnelSidecar(ctx context.Context, spec TunnelSpec) (TunnelStatus, error) {
	if spec.ID == "" {
		return TunnelUnavailable, ErrNoTunnelID
	}

	available := s.engine != nil && s.engine.Available(ctx)
	if available {
		running, err := s.engine.Running(ctx, spec.ID)
		if err != nil {
			s.logger.Warn("cannot inspect tunnel sidecar", logging.Fields{"error": err.Error()})
		}
		if running {
			s.logger.Debug("tunnel sidecar already running", logging.Fields{"id": spec.ID})
			return TunnelReused, nil
		}
	}

	confPath, err := WriteTunnelFiles(spec)
	if err != nil {
		return TunnelUnavailable, err
	}

	if !available {
		s.warn("Docker is not available; the tunnel is disabled. Start it manually with docker compose in " + spec.withDefaults().Dir)
		return TunnelUnavailable, nil
	}

	if err := s.engine.Launch(ctx, spec, confPath); err != nil {
		return TunnelUnavailable, fmt.Errorf("launch tunnel sidecar: %w", err)
	}
	s.mu.Lock()
	s.ownsTunnel = true
	s.mu.Unlock()
	return TunnelStarted, nil
}

// Release hands ownership of a started sidecar to the user so Cleanup
// leaves it running.
func (s *Supervisor) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownsTunnel = false
}

// Cleanup stops everything this supervisor started: each helper gets a
// shutdown request, then a terminate and a bounded wait if still alive.
// Only the first call does anything.
func (s *Supervisor) Cleanup() {
	s.cleanupOnce.Do(s.cleanup)
}

func (s *Supervisor) cleanup() {
	ctx := context.Background()

	s.mu.Lock()
	helpers := make(map[int]Process, len(s.helpers))
	ports := make([]int, 0, len(s.helpers))
	for port, p := range s.helpers {
		helpers[port] = p
		ports = append(ports, port)
	}
	ownsTunnel := s.ownsTunnel
	s.mu.Unlock()
	sort.Ints(ports)

	for _, port := range ports {
		p := helpers[port]
		s.StopFilesystemHelper(ctx, port)
		if !p.Alive() {
			continue
		}
		if p.Wait(s.stopWait/4) == nil {
			continue
		}
		if err := p.Terminate(); err != nil {
			s.logger.Debug("terminate failed", logging.Fields{"pid": p.Pid(), "error": err.Error()})
		}
		if err := p.Wait(s.stopWait); err != nil {
			s.logger.Warn("filesystem helper did not exit, killing it", logging.Fields{"pid": p.Pid()})
			_ = p.Kill()
		}
	}

	if ownsTunnel && s.engine != nil {
		if err := s.engine.Stop(ctx); err != nil {
			s.logger.Warn("cannot stop tunnel sidecar", logging.Fields{"error": err.Error()})
		}
	}
}
