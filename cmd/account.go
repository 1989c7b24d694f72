package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kajande/dulayni-cli/internal/config"
	"github.com/kajande/dulayni-cli/internal/display"
)

// newLogoutCmd creates the logout command
func (app *App) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored phone session",
		Long: `Remove the stored phone session.

The next command that needs the service asks for a new verification code.
API keys in config files are not touched.

Examples:
  dulayni logout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runLogout()
		},
	}
}

// newStatusCmd creates the status command
func (app *App) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long: `Show the configured authentication method and the stored phone
session.

Examples:
  dulayni status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStatus()
		},
	}
}

// newBalanceCmd creates the balance command
func (app *App) newBalanceCmd() *cobra.Command {
	var ov config.Overrides

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show your account balance",
		Long: `Authenticate and show the balance of your dulayni account.

Examples:
  dulayni balance
  dulayni balance --print-mode json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return app.runBalance(ctx, ov)
		},
	}

	cmd.Flags().StringVarP(&ov.PhoneNumber, "phone-number", "p", "", "Phone number for authentication")
	cmd.Flags().StringVarP(&ov.APIKey, "dulayni-key", "k", "", "dulayni API key")
	cmd.Flags().StringVar(&ov.PrintMode, "print-mode", "", "Output format: rich or json")
	return cmd
}

func (app *App) runLogout() error {
	store, err := app.sessionStore()
	if err != nil {
		return err
	}
	sess, err := store.Load()
	if err != nil {
		return err
	}
	if sess == nil {
		fmt.Fprintln(app.out, "Not currently logged in.")
		return nil
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	fmt.Fprintln(app.out, "Successfully logged out.")
	return nil
}

func (app *App) runStatus() error {
	console := app.newConsole(display.ModeRich)

	var pairs [][2]string
	cfg, err := app.loadConfig(config.Overrides{})
	if err != nil {
		console.Warn(err.Error())
	} else {
		pairs = append(pairs, [2]string{"API", cfg.APIURL})
		if id, err := cfg.Identity(); err != nil {
			pairs = append(pairs, [2]string{"Auth method", "not configured"})
		} else {
			pairs = append(pairs, [2]string{"Auth method", id.Method.String()})
			if id.PhoneNumber != "" {
				pairs = append(pairs, [2]string{"Phone number", id.PhoneNumber})
			}
		}
	}

	store, err := app.sessionStore()
	if err != nil {
		return err
	}
	sess, err := store.Load()
	if err != nil {
		return err
	}
	switch {
	case sess == nil:
		pairs = append(pairs, [2]string{"Session", "none"})
	case store.IsValid(sess):
		pairs = append(pairs,
			[2]string{"Session", "valid for " + sess.PhoneNumber},
			[2]string{"Expires", humanize.Time(sess.ExpiresAt)},
		)
	default:
		pairs = append(pairs,
			[2]string{"Session", "expired for " + sess.PhoneNumber},
			[2]string{"Expired", humanize.Time(sess.ExpiresAt)},
		)
	}
	pairs = append(pairs, [2]string{"Session file", store.Path()})

	console.KeyValues("Authentication Status", pairs)
	if sess == nil || !store.IsValid(sess) {
		fmt.Fprintln(console.Out, "\nRun 'dulayni run' or 'dulayni balance' to verify your phone number.")
	}
	return nil
}

func (app *App) runBalance(ctx context.Context, ov config.Overrides) error {
	cfg, err := app.loadConfig(ov)
	if err != nil {
		return err
	}
	id, err := cfg.Identity()
	if err != nil {
		return err
	}

	console := app.newConsole(cfg.PrintMode)
	client := app.newClient(cfg, nil)
	coord, err := app.newCoordinator(client)
	if err != nil {
		return err
	}
	if err := coord.Authenticate(ctx, id); err != nil {
		console.Failure(err)
		return reported(err)
	}

	bal, err := client.Balance(ctx)
	if err != nil {
		console.Failure(err)
		return reported(err)
	}
	console.Balance(bal)
	return nil
}
