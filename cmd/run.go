package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kajande/dulayni-cli/internal/api"
	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/display"
	"github.com/kajande/dulayni-cli/internal/history"
	"github.com/kajande/dulayni-cli/internal/logging"
	"github.com/kajande/dulayni-cli/internal/query"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	query     string
	file      string
	stream    bool
	timeout   time.Duration
	noHistory bool
	ov        config.Overrides
}

func (app *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Ask the agent a question, or start interactive mode",
		Long: `Send a query to the dulayni agent. Without --query, --file or a
positional query, an interactive session starts.

Before querying, the local filesystem helper and the reverse tunnel are
started unless disabled, so the agent can work on this project's files.`,
		Example: `  dulayni run
  dulayni run -q "List the TODOs in this repository"
  dulayni run -f task.md --stream
  dulayni run --print-mode json -q "Summarise main.go" | jq .response`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("stream") {
				opts.ov.Stream = &opts.stream
			}
			opts.ov.Timeout = opts.timeout
			if opts.query == "" && opts.file == "" && len(args) > 0 {
				opts.query = strings.Join(args, " ")
			}
			return app.runAgent(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.query, "query", "q", "", "Query to send (batch mode)")
	f.StringVarP(&opts.file, "file", "f", "", "Markdown file whose content is the query")
	f.StringVarP(&opts.ov.Model, "model", "m", "", "Model to use")
	f.StringVarP(&opts.ov.PhoneNumber, "phone-number", "p", "", "Phone number for authentication")
	f.StringVarP(&opts.ov.APIKey, "dulayni-key", "k", "", "dulayni API key")
	f.StringVarP(&opts.ov.AgentType, "agent-type", "a", "", "Agent type (react or deep_react)")
	f.StringVarP(&opts.ov.SystemPrompt, "system-prompt", "s", "", "System prompt for the agent")
	f.StringVar(&opts.ov.ThreadID, "thread-id", "", "Conversation thread id")
	f.StringVar(&opts.ov.MemoryDB, "memory-db", "", "Server-side SQLite memory database")
	f.StringVar(&opts.ov.PgURI, "pg-uri", "", "Server-side PostgreSQL memory URI")
	f.StringVar(&opts.ov.PrintMode, "print-mode", "", "Output format: rich or json")
	f.BoolVar(&opts.stream, "stream", false, "Stream the answer as it is produced")
	f.DurationVar(&opts.timeout, "timeout", 0, "Request timeout (e.g. 90s)")
	f.BoolVar(&opts.ov.NoTunnel, "no-tunnel", false, "Do not start the reverse tunnel")
	f.BoolVar(&opts.ov.NoFilesystem, "no-fs", false, "Do not start the filesystem helper")
	f.IntVar(&opts.ov.FSPort, "fs-port", 0, "Port of the filesystem helper")
	f.StringVar(&opts.ov.RelayHost, "relay-host", "", "Tunnel relay host")
	f.BoolVar(&opts.noHistory, "no-history", false, "Do not record interactive exchanges")

	cmd.MarkFlagsMutuallyExclusive("query", "file")
	_ = cmd.MarkFlagFilename("file", "md", "markdown", "txt")

	return cmd
}

// readQueryFile returns the content of a markdown query file.
func readQueryFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &api.ClientError{Message: fmt.Sprintf("cannot read query file: %v", err)}
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", &api.ClientError{Message: fmt.Sprintf("query file %s is empty", path)}
	}
	return content, nil
}

func (app *App) runAgent(ctx context.Context, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	content := opts.query
	if opts.file != "" {
		var err error
		if content, err = readQueryFile(opts.file); err != nil {
			return err
		}
	}

	cfg, err := app.loadConfig(opts.ov)
	if err != nil {
		return err
	}
	id, err := cfg.Identity()
	if err != nil {
		return err
	}

	console := app.newConsole(cfg.PrintMode)
	client := app.newClient(cfg, console.Activity(app.verbose))
	coord, err := app.newCoordinator(client)
	if err != nil {
		return err
	}

	if err := coord.Authenticate(ctx, id); err != nil {
		console.Failure(err)
		return reported(err)
	}

	comp := app.newCompanions(console)
	defer comp.Close()

	// Ctrl+C while companions start must still reach comp.Close.
	startCtx, stopStart := signal.NotifyContext(ctx, os.Interrupt)
	defer stopStart()
	comp.Start(startCtx, cfg, id, console)
	if err := startCtx.Err(); err != nil {
		console.Info("Interrupted")
		return reported(err)
	}

	exec := query.NewExecutor(client, console,
		query.WithStream(cfg.Stream),
		query.WithLogger(app.logger),
	)

	if content != "" {
		qctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
		defer cancel()
		return reported(exec.RunBatch(qctx, content))
	}

	loopOpts := []query.LoopOption{query.WithLoopLogger(app.logger)}
	if !opts.noHistory {
		if hist := app.loadHistory(); hist != nil {
			loopOpts = append(loopOpts, query.WithHistory(hist))
		}
	}
	loop := query.NewLoop(exec, coord, id, loopOpts...)

	if !console.JSONMode() {
		app.printBanner(startCtx, console, client, cfg)
		if err := startCtx.Err(); err != nil {
			console.Info("Interrupted")
			return reported(err)
		}
	}
	stopStart()
	if app.stdinIsTerminal() {
		app.runPrompt(ctx, loop)
		return nil
	}
	return loop.Run(ctx, newSignalReader(query.NewScannerReader(app.in)))
}

// loadHistory opens the local query history. Problems only disable it.
func (app *App) loadHistory() history.HistoryManager {
	path, err := history.DefaultPath()
	if err != nil {
		app.logger.Debug("history disabled", logging.Fields{"error": err.Error()})
		return nil
	}
	hist := history.NewHistory(path, 0)
	if err := hist.Load(); err != nil {
		app.logger.Warn("could not load history", logging.Fields{"error": err.Error()})
	}
	return hist
}

// printBanner shows the effective configuration and an advisory health
// check. An unhealthy server does not stop the session.
func (app *App) printBanner(ctx context.Context, console *display.Console, client *api.Client, cfg *config.Config) {
	pairs := cfg.Summary()
	health := client.HealthCheck(ctx)
	if health.Healthy() && health.DebugTools != nil {
		state := "disabled"
		if *health.DebugTools {
			state = "enabled"
		}
		pairs = append(pairs, [2]string{"Debug tools", state})
	}

	console.KeyValues("dulayni - Interactive Mode", pairs)
	if !health.Healthy() {
		console.Warn(fmt.Sprintf("API server health check failed (%s): %s", health.Error, health.Message))
	}

	out := console.Out
	fmt.Fprintln(out, "Type /help for commands, 'quit' or Ctrl+D to exit")
	fmt.Fprintln(out, "End a line with \\ for multiline input")
	fmt.Fprintln(out)
}
