package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kajande/dulayni-cli/internal/constants"
	"github.com/kajande/dulayni-cli/internal/fsserver"
	"github.com/kajande/dulayni-cli/internal/logging"
)

// newFSServerCmd creates the filesystem helper command that run spawns in
// the background. It is hidden because users never call it directly.
func (app *App) newFSServerCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:    "fs-server [directory...]",
		Short:  "Serve the local filesystem helper",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = []string{"."}
			}
			srv, err := fsserver.New(port, dirs, app.logger)
			if err != nil {
				return err
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app.logger.Info("filesystem helper starting", logging.Fields{"port": port, "dirs": dirs})
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", constants.DefaultFilesystemPort, "Port to listen on")
	return cmd
}
