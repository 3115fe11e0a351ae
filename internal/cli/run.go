package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quantum-trader/internal/server"
)

func newRunCmd(app *App) *cobra.Command {
	var (
		once            bool
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the trading engine",
		Long: `Start the trading and health loops and the HTTP status server.

SIGINT or SIGTERM stops the loops, logs the final report, sends the
summary notification and drains the trade ledger.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Load(); err != nil {
				return err
			}
			defer app.Close()

			engine, err := app.BuildEngine(ctx)
			if err != nil {
				app.logStartupFailure(err)
				return err
			}

			if once {
				cycleErr := engine.RunCycle(ctx)
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return errors.Join(cycleErr, engine.Shutdown(shutdownCtx))
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				errs []error
			)
			// the first failure stops the other loops
			launch := func(fn func(context.Context) error) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
						mu.Lock()
						errs = append(errs, err)
						mu.Unlock()
						cancel()
					}
				}()
			}

			launch(engine.Run)

			cfg := app.Config
			if cfg.Server.Enabled {
				srv := server.New(server.Options{
					Host:     cfg.Server.Host,
					Port:     cfg.Server.Port,
					Status:   app.Pipeline,
					Health:   app.Health,
					Store:    app.Store,
					Gatherer: app.Metrics.Registry(),
					Logger:   app.Logger,
				})
				launch(srv.Run)
			}

			wg.Wait()
			runErr := errors.Join(errs...)
			app.Logger.Info().Msg("Shutting down")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return errors.Join(runErr, engine.Shutdown(shutdownCtx))
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single trading cycle and exit")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed to drain the trade ledger")
	return cmd
}
