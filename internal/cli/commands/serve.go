package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mindzen-erp/mindzen/internal/admin"
	"github.com/mindzen-erp/mindzen/internal/cli/ui"
)

// NewServeCommand creates the serve command
func NewServeCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kernel with the admin HTTP API",
		Long: `Boot the kernel and serve the admin API until interrupted.

Routes:
  GET    /healthz
  GET    /modules
  POST   /modules/{name}/install
  DELETE /modules/{name}
  GET    /journal?limit=N`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := boot(cmd, opts, bootOptions{record: true})
			if err != nil {
				return err
			}

			if addr == "" {
				addr = a.cfg.Admin.Addr
			}
			logger := a.logger.Named("admin")

			api := admin.New(a.engine, admin.WithJournal(a.journal), admin.WithLogger(logger))
			srv, err := admin.NewServer(admin.DefaultServerConfig(addr), api.Router(), logger)
			if err != nil {
				a.close(ctx)
				return err
			}
			srv.OnShutdown(func(ctx context.Context) error {
				a.close(ctx)
				return nil
			})

			if err := srv.Listen(); err != nil {
				a.close(ctx)
				return err
			}
			ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Admin API listening on %s", srv.Addr()), opts.noColor)

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: admin.addr)")
	return cmd
}
