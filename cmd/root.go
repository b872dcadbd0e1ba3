// Package cmd defines the enricher CLI: the long-running service plus
// one-shot commands for operators.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/app"
	"github.com/JakeFAU/inn-enricher/internal/config"
	"github.com/JakeFAU/inn-enricher/internal/logging"
	"github.com/JakeFAU/inn-enricher/internal/telemetry"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to build the App
// from in-process drivers.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// loadConfig is replaceable for the same reason.
var loadConfig = config.Load

type runtime struct {
	app           *app.App
	shutdownTrace func(context.Context) error
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "enricher",
		Short: "Finds the INN and contact emails of supplier websites.",
		Long: `enricher visits supplier domains and extracts the company tax id (INN)
and contact emails, escalating from plain HTTP to embedded page data to a
real browser. Jobs are durable and resume after restarts.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			shutdown, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.Config{
				Enabled:     cfg.Tracing.Enabled,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRatio: cfg.Tracing.SampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = shutdown(cmd.Context())
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &runtime{app: a, shutdownTrace: shutdown}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(appKey).(*runtime)
			if !ok || rt == nil {
				return
			}
			ctx := context.WithoutCancel(cmd.Context())
			if err := rt.app.Close(ctx); err != nil {
				rt.app.Logger.Warn("error closing services", zap.Error(err))
			}
			if err := rt.shutdownTrace(ctx); err != nil {
				rt.app.Logger.Warn("error flushing traces", zap.Error(err))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(
		newServeCmd(),
		newEnqueueCmd(),
		newStatusCmd(),
		newExtractCmd(),
		newLearnCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	rt, ok := ctx.Value(appKey).(*runtime)
	if !ok || rt == nil || rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt.app, nil
}

// Execute runs the CLI until it finishes or the process is signalled, and
// returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
