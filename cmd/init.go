package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kajande/dulayni-cli/internal/companion"
	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/constants"
	"github.com/kajande/dulayni-cli/internal/display"
	"github.com/kajande/dulayni-cli/internal/logging"
)

// gitignoreEntries keeps local state and secrets out of the repository.
var gitignoreEntries = []string{
	constants.TunnelConfigDir + "/",
	constants.DefaultMemoryDB,
	constants.SessionFileName,
	constants.APIKeyFileName,
}

var errGitNotFound = errors.New("git not found")

type initOptions struct {
	phone     string
	key       string
	method    string
	relayHost string
	force     bool
	noAuth    bool
}

func (app *App) newInitCmd() *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise the current directory as a dulayni project",
		Long: `Set up the current directory for dulayni:

  1. initialise a git repository and add dulayni entries to .gitignore
  2. choose WhatsApp verification or a dulayni API key
  3. write config/config.json (and .dulayni_key for key authentication)
  4. for WhatsApp verification, prepare the reverse tunnel and verify the
     phone number`,
		Example: `  dulayni init
  dulayni init --phone-number +221770000000
  dulayni init --dulayni-key sk-...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return app.runInit(ctx, ".", opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.phone, "phone-number", "p", "", "Phone number for WhatsApp verification")
	f.StringVarP(&opts.key, "dulayni-key", "k", "", "dulayni API key")
	f.StringVar(&opts.method, "auth-method", "", "Authentication method: phone or key")
	f.StringVar(&opts.relayHost, "relay-host", "", "Tunnel relay host")
	f.BoolVar(&opts.force, "force", false, "Re-initialise without asking")
	f.BoolVar(&opts.noAuth, "skip-auth", false, "Do not verify the phone number now")
	cmd.MarkFlagsMutuallyExclusive("phone-number", "dulayni-key")

	return cmd
}

func (app *App) runInit(ctx context.Context, dir string, opts *initOptions) error {
	console := app.newConsole(display.ModeRich)
	configPath := app.configPath
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(dir, configPath)
	}

	fmt.Fprintln(console.Out, "Initializing dulayni project...")

	proceed, err := app.checkExisting(ctx, console, configPath, opts.force)
	if err != nil || !proceed {
		return err
	}

	method, err := app.chooseMethod(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(console.Out, "\nStep 1: Setting up Git repository")
	app.setupGit(console, dir)

	fmt.Fprintln(console.Out, "\nStep 2: Creating configuration")
	tmpl := config.TemplateOptions{APIURL: app.apiURL, RelayHost: opts.relayHost}
	switch method {
	case methodKey:
		key := opts.key
		if key == "" {
			if key, err = app.askKey(ctx); err != nil {
				return err
			}
		}
		if err := config.WriteAPIKeyFile(filepath.Join(dir, constants.APIKeyFileName), key); err != nil {
			return err
		}
		console.Success("dulayni API key saved to " + constants.APIKeyFileName)
		tmpl.APIKeyFile = constants.APIKeyFileName
	default:
		phone := strings.TrimSpace(opts.phone)
		if phone == "" {
			if phone, err = app.askPhone(ctx); err != nil {
				return err
			}
		} else if err := validatePhone(phone); err != nil {
			return err
		}
		tmpl.PhoneNumber = phone
	}

	if err := config.NewProjectConfig(tmpl).Save(configPath); err != nil {
		return err
	}
	console.Success("Created config file: " + app.configPath)

	if method == methodKey {
		fmt.Fprintln(console.Out, "\nStep 3: Tunnel setup")
		console.Info("Skipping tunnel setup (not needed for API key authentication)")
		fmt.Fprintln(console.Out, "\nStep 4: Authentication")
		console.Success("dulayni API key configured")
	} else {
		fmt.Fprintln(console.Out, "\nStep 3: Setting up the tunnel")
		app.setupTunnel(ctx, console, dir, tmpl)

		fmt.Fprintln(console.Out, "\nStep 4: Authentication")
		if opts.noAuth {
			console.Info("Skipped. Run 'dulayni run' to verify your phone number later.")
		} else {
			app.verifyPhone(ctx, console, tmpl.PhoneNumber)
		}
	}

	app.printInitSummary(console, method)
	return nil
}

// checkExisting asks before overwriting a config that already names an
// authentication method.
func (app *App) checkExisting(ctx context.Context, console *display.Console, configPath string, force bool) (bool, error) {
	fc, err := config.LoadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		console.Warn(err.Error() + "; it will be replaced")
		return true, nil
	}

	switch {
	case fc.PhoneNumber != "":
		console.Warn(fmt.Sprintf("Project already initialized with WhatsApp authentication (phone: %s)", fc.PhoneNumber))
	case fc.APIKey != "" || fc.APIKeyFile != "":
		console.Warn("Project already initialized with dulayni API key authentication")
	default:
		console.Info("Project config found but no authentication method. Continuing with initialization...")
		return true, nil
	}

	if force {
		return true, nil
	}
	ok, err := app.confirm(ctx, "Do you want to re-initialize?")
	if err != nil {
		return false, err
	}
	if !ok {
		console.Info("Initialization cancelled")
	}
	return ok, nil
}

func (app *App) chooseMethod(ctx context.Context, opts *initOptions) (string, error) {
	switch strings.ToLower(opts.method) {
	case methodKey, "dulayni":
		return methodKey, nil
	case methodPhone, "whatsapp":
		return methodPhone, nil
	case "":
	default:
		return "", fmt.Errorf("unknown auth method %q: use phone or key", opts.method)
	}
	switch {
	case opts.key != "":
		return methodKey, nil
	case opts.phone != "":
		return methodPhone, nil
	}
	return app.askMethod(ctx)
}

func (app *App) setupGit(console *display.Console, dir string) {
	created, err := initGitRepo(dir)
	switch {
	case errors.Is(err, errGitNotFound):
		console.Warn("Git not found. Skipping Git initialization.")
	case err != nil:
		console.Warn("Failed to initialize Git repository: " + err.Error())
	case created:
		console.Success("Initialized Git repository")
	default:
		console.Info("Git repository already exists")
	}

	changed, err := updateGitignore(dir)
	switch {
	case err != nil:
		console.Warn("Could not update .gitignore: " + err.Error())
	case changed:
		console.Success("Updated .gitignore")
	default:
		console.Info(".gitignore already contains dulayni entries")
	}
}

// initGitRepo runs "git init" in dir unless it already holds a repository.
func initGitRepo(dir string) (bool, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return false, nil
	}
	if _, err := exec.LookPath("git"); err != nil {
		return false, errGitNotFound
	}
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return true, nil
}

// updateGitignore appends the missing dulayni entries to dir/.gitignore and
// reports whether the file changed.
func updateGitignore(dir string) (bool, error) {
	path := filepath.Join(dir, ".gitignore")
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}

	present := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		present[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, e := range gitignoreEntries {
		if !present[e] {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}

	var sb strings.Builder
	sb.Write(data)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		sb.WriteString("\n")
	}
	if len(data) > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("# dulayni\n")
	for _, e := range missing {
		sb.WriteString(e + "\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// setupTunnel writes the tunnel files and starts the sidecar, leaving it
// running for later sessions.
func (app *App) setupTunnel(ctx context.Context, console *display.Console, dir string, tmpl config.TemplateOptions) {
	cfg := config.NewResolver(app.env).Resolve(config.NewProjectConfig(tmpl), config.Overrides{RelayHost: tmpl.RelayHost})
	tunnelID := config.TunnelID(tmpl.PhoneNumber)

	comp := app.newCompanions(console)
	defer comp.Close()

	spec := comp.tunnelSpec(cfg, tunnelID)
	spec.Dir = filepath.Join(dir, constants.TunnelConfigDir)
	status, err := comp.sup.EnsureTunnelSidecar(ctx, spec)
	comp.sup.Release()
	if err != nil {
		console.Warn("Tunnel setup failed: " + err.Error())
		return
	}
	app.logger.Debug("tunnel sidecar", logging.Fields{"id": tunnelID, "status": status.String()})
	switch status {
	case companion.TunnelStarted:
		console.Success("Tunnel started for " + spec.Domain())
	case companion.TunnelReused:
		console.Success("Tunnel already running for " + spec.Domain())
	default:
		console.Info("Tunnel configuration written to " + constants.TunnelConfigDir + "/")
	}
}

// verifyPhone authenticates right away so the first run needs no code. A
// failure leaves the project usable.
func (app *App) verifyPhone(ctx context.Context, console *display.Console, phone string) {
	cfg, err := app.loadConfig(config.Overrides{PhoneNumber: phone})
	if err != nil {
		console.Warn(err.Error())
		return
	}
	client := app.newClient(cfg, nil)
	coord, err := app.newCoordinator(client)
	if err != nil {
		console.Warn(err.Error())
		return
	}

	console.Info("Requesting verification code for " + phone + "...")
	if err := coord.Authenticate(ctx, config.Identity{Method: config.MethodPhone, PhoneNumber: phone}); err != nil {
		console.Error("Authentication failed: " + err.Error())
		console.Warn("Project files created but authentication incomplete.")
		console.Info("You can run 'dulayni run' later to authenticate.")
		return
	}
	console.Success("Authentication successful")
}

func (app *App) printInitSummary(console *display.Console, method string) {
	out := console.Out
	fmt.Fprintln(out)
	console.Success("dulayni project initialization complete!")
	fmt.Fprintln(out, "\nWhat was created:")
	fmt.Fprintln(out, "  • Git repository (if not already present)")
	fmt.Fprintln(out, "  • .gitignore entries for dulayni")
	fmt.Fprintf(out, "  • %s with your settings\n", app.configPath)
	if method == methodKey {
		fmt.Fprintf(out, "  • %s (API key, readable only by you)\n", constants.APIKeyFileName)
	} else {
		fmt.Fprintf(out, "  • %s/ with the tunnel configuration\n", constants.TunnelConfigDir)
		fmt.Fprintln(out, "  • Authentication session (if successful)")
	}
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  • Run 'dulayni run' to start interactive mode")
	fmt.Fprintln(out, "  • Run 'dulayni run -q \"your query\"' for batch queries")
	fmt.Fprintf(out, "  • Edit %s to customize your settings\n", app.configPath)
}
