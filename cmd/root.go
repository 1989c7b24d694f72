package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kajande/dulayni-cli/internal/api"
	"github.com/kajande/dulayni-cli/internal/auth"
	"github.com/kajande/dulayni-cli/internal/companion"
	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/constants"
	"github.com/kajande/dulayni-cli/internal/display"
	"github.com/kajande/dulayni-cli/internal/logging"
	"github.com/kajande/dulayni-cli/internal/session"
)

// App holds the application state shared by every command.
type App struct {
	configPath string
	apiURL     string
	verbose    bool

	logger *logging.Logger
	env    config.LookupFunc

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	reader *bufio.Reader

	// sessionPath overrides ~/.dulayni/session.json.
	sessionPath string
	// codePrompt overrides the interactive verification code prompt.
	codePrompt auth.CodePrompt
	// companionOpts are applied after the default supervisor options.
	companionOpts []companion.Option
}

// NewApp creates an App bound to the process streams.
func NewApp() *App {
	return &App{
		logger: logging.DefaultLogger,
		env:    os.LookupEnv,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// reportedError marks an error the command already rendered.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil {
		return nil
	}
	return &reportedError{err: err}
}

// Execute runs the root command
func Execute() {
	app := NewApp()
	if err := app.NewRootCmd().Execute(); err != nil {
		var r *reportedError
		if !errors.As(err, &r) {
			display.ShowError(err.Error())
		}
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func (app *App) NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dulayni",
		Short: "Command-line client for the dulayni agent service",
		Long: `dulayni talks to a remote dulayni agent. It authenticates with a phone
verification code or a dulayni API key, exposes the current directory to
the agent through a local filesystem helper and a reverse tunnel, and
renders the agent's answers.

Examples:
  dulayni init                          # Set up the current project
  dulayni run                           # Interactive mode
  dulayni run -q "Summarise README.md"  # Single query
  dulayni run -f task.md --stream       # Query from a markdown file
  dulayni balance`,
		Version:       constants.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", constants.DefaultConfigPath, "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&app.apiURL, "api-url", "", "URL of the dulayni API server")

	rootCmd.AddCommand(app.newInitCmd())
	rootCmd.AddCommand(app.newRunCmd())
	rootCmd.AddCommand(app.newLogoutCmd())
	rootCmd.AddCommand(app.newStatusCmd())
	rootCmd.AddCommand(app.newBalanceCmd())
	rootCmd.AddCommand(app.newFSServerCmd())

	rootCmd.SetIn(app.in)
	rootCmd.SetOut(app.out)
	rootCmd.SetErr(app.errOut)
	return rootCmd
}

// setup loads .env and configures logging. Real environment variables win
// over .env entries.
func (app *App) setup() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	level := logging.LevelWarn
	if v, ok := app.env(config.EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		level = logging.ParseLevel(v)
	}
	if app.verbose {
		level = logging.LevelDebug
	}
	format, _ := app.env(config.EnvLogFormat)

	app.logger = logging.New(logging.Options{
		Level:  level,
		Format: logging.ParseFormat(format),
		Output: app.errOut,
	})
	return nil
}

// loadConfig merges the config file, CLI overrides and environment.
func (app *App) loadConfig(ov config.Overrides) (*config.Config, error) {
	fc, err := config.LoadFile(app.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, &config.ConfigurationError{Err: err}
		}
		app.logger.Debug("no config file, using flags and environment", logging.Fields{"path": app.configPath})
		fc = nil
	}

	if ov.APIURL == "" {
		ov.APIURL = app.apiURL
	}
	cfg := config.NewResolver(app.env).Resolve(fc, ov)
	for _, w := range cfg.Warnings {
		app.logger.Warn(w)
	}
	if err := cfg.Validate(); err != nil {
		return nil, &config.ConfigurationError{Err: err}
	}
	return cfg, nil
}

// newConsole creates a console on the app's streams.
func (app *App) newConsole(mode string) *display.Console {
	c := display.NewConsole(mode)
	if app.out != os.Stdout {
		c.Out = app.out
		c.Markdown = false
	}
	if app.errOut != os.Stderr {
		c.Err = app.errOut
		c.Progress = false
	}
	return c
}

// newClient creates the agent client for cfg.
func (app *App) newClient(cfg *config.Config, sink api.EventSink) *api.Client {
	return api.NewClient(api.Options{
		BaseURL:     cfg.APIURL,
		PhoneNumber: cfg.PhoneNumber,
		APIKey:      cfg.APIKey,
		Defaults: api.Params{
			AgentType:    cfg.AgentType,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			ThreadID:     cfg.ThreadID,
			MemoryDB:     cfg.MemoryDB,
			PgURI:        cfg.PgURI,
			MCPServers:   cfg.MCPServers,
		},
		Timeout: cfg.RequestTimeout,
		Logger:  app.logger,
		Debug:   app.verbose,
		Sink:    sink,
	})
}

// sessionStore opens the phone session store.
func (app *App) sessionStore() (*session.Store, error) {
	if app.sessionPath != "" {
		return session.NewStore(app.sessionPath), nil
	}
	return session.NewDefaultStore()
}

// newCoordinator wires the authentication state machine to client.
func (app *App) newCoordinator(client *api.Client) (*auth.Coordinator, error) {
	store, err := app.sessionStore()
	if err != nil {
		return nil, err
	}
	prompt := app.codePrompt
	if prompt == nil {
		prompt = app.promptCode
	}
	return auth.NewCoordinator(client, store,
		auth.WithPrompt(prompt),
		auth.WithLogger(app.logger),
	), nil
}

// stdinIsTerminal reports whether input comes from a person at a terminal.
func (app *App) stdinIsTerminal() bool {
	f, ok := app.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readLine prints prompt and reads one line from the app's input.
func (app *App) readLine(prompt string) (string, error) {
	if app.reader == nil {
		app.reader = bufio.NewReader(app.in)
	}
	fmt.Fprint(app.errOut, prompt)
	line, err := app.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
