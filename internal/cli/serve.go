package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"localcal/internal/calendar"
	"localcal/internal/config"
	appLog "localcal/internal/log"
	"localcal/internal/web"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCalendar(cmd, rootOpts, func(ctx context.Context, cfg *config.Config, cal *calendar.LocalCalendar) error {
				// CLI --listen overrides config file listen if provided.
				if listen != "" {
					cfg.Listen = listen
				}
				appLog.Info("effective config",
					"listen", cfg.Listen,
					"timezone", cfg.Timezone,
					"calendar", cfg.CalendarName,
					"backend", cfg.Storage.Backend,
					"path", cfg.Storage.Path,
					"status_refresh", cfg.StatusRefresh,
				)

				// Root context with cancellation on SIGINT/SIGTERM.
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(sigCh)

				go func() {
					select {
					case sig := <-sigCh:
						appLog.Info("signal received, shutting down", "signal", sig.String())
						cancel()
					case <-ctx.Done():
					}
				}()

				err := web.StartServer(ctx, cfg, cal)
				appLog.Info("localcal exiting")
				return err
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}
