// Package cmd defines the CLI commands of the provider-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/app"
	"github.com/JakeFAU/provider-harvester/internal/config"
	"github.com/JakeFAU/provider-harvester/internal/coordinator"
	"github.com/JakeFAU/provider-harvester/internal/discovery"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of the service container the commands use, so tests can
// inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Run(ctx context.Context) (coordinator.Summary, error)
	Discover(ctx context.Context, rediscover bool) (discovery.Result, error)
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "provider-harvester",
		Short: "Harvests healthcare provider profile pages and their structured records.",
		Long: `provider-harvester discovers provider profile URLs from a paginated sitemap
family, then fetches each profile page and its structured JSON record with a
bounded worker pool. Progress is checkpointed so interrupted runs resume.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE. The
		// subcommand owns closing the App, since post-run hooks are skipped
		// when RunE fails.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env file is fine.
			_ = godotenv.Load()
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringP("output-dir", "o", "", "output directory (default \"output\")")
	cmd.PersistentFlags().StringSlice("types", nil, "sitemap resource types to discover (default [doctor])")
	cmd.PersistentFlags().Bool("dev", true, "development logging")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newDiscoverCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider-harvester: %v\n", err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
