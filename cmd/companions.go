package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kajande/dulayni-cli/internal/companion"
	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/display"
	"github.com/kajande/dulayni-cli/internal/logging"
)

// companions owns the supervisor and the container engine of one command.
type companions struct {
	sup    *companion.Supervisor
	engine *companion.DockerEngine
	logger *logging.Logger
	stop   func()
}

// newCompanions builds a supervisor whose warnings go to console. A missing
// Docker client only disables the tunnel.
func (app *App) newCompanions(console *display.Console) *companions {
	var stderr io.Writer
	if app.verbose {
		stderr = app.errOut
	}
	opts := []companion.Option{
		companion.WithLogger(app.logger),
		companion.WithWarn(console.Warn),
		companion.WithSpawner(companion.ExecSpawner{Stderr: stderr}),
	}

	c := &companions{logger: app.logger, stop: func() {}}
	engine, err := companion.NewDockerEngine(app.logger)
	if err != nil {
		app.logger.Debug("tunnel engine unavailable", logging.Fields{"error": err.Error()})
	} else {
		c.engine = engine
		opts = append(opts, companion.WithEngine(engine))
	}
	opts = append(opts, app.companionOpts...)
	c.sup = companion.NewSupervisor(opts...)
	c.stop = c.cleanupOnTerminate()
	return c
}

// cleanupOnTerminate stops owned companions when the process is asked to
// terminate. Interrupts are handled by the query layer instead.
func (c *companions) cleanupOnTerminate() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			c.sup.Cleanup()
			os.Exit(143)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Start brings up the filesystem helper and the tunnel sidecar cfg asks for.
// Failures are reported as warnings; the session goes on without them.
func (c *companions) Start(ctx context.Context, cfg *config.Config, id config.Identity, console *display.Console) {
	if cfg.Filesystem.Enabled {
		if _, err := c.sup.EnsureFilesystemHelper(ctx, cfg.Filesystem.Port, cfg.Filesystem.Directories); err != nil {
			console.Warn("filesystem helper not started: " + err.Error())
		}
	}

	if !cfg.Tunnel.Enabled {
		return
	}
	tunnelID := id.TunnelID()
	if tunnelID == "" {
		c.logger.Debug("no phone number to name the tunnel, skipping")
		return
	}
	status, err := c.sup.EnsureTunnelSidecar(ctx, c.tunnelSpec(cfg, tunnelID))
	if err != nil {
		console.Warn("tunnel not started: " + err.Error())
		return
	}
	c.logger.Debug("tunnel sidecar", logging.Fields{"id": tunnelID, "status": status.String()})
}

func (c *companions) tunnelSpec(cfg *config.Config, tunnelID string) companion.TunnelSpec {
	return companion.TunnelSpec{
		ID:         tunnelID,
		Host:       cfg.Tunnel.Host,
		ServerPort: cfg.Tunnel.ServerPort,
		Token:      cfg.Tunnel.Token,
		LocalPort:  cfg.Filesystem.Port,
	}
}

// Close stops what this command started and releases the engine.
func (c *companions) Close() {
	c.stop()
	c.sup.Cleanup()
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			c.logger.Debug("closing docker client", logging.Fields{"error": err.Error()})
		}
	}
}
