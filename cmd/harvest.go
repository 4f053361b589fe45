package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Discover (if needed) and harvest provider pages",
		Long: `Reads candidate URLs from --input, or runs sitemap discovery when no input
is given, then harvests every URL not yet recorded in progress.txt.`,
		RunE: runHarvestCommand,
	}
	cmd.Flags().StringP("input", "i", "", "file with one URL per line (default: discovery output)")
	cmd.Flags().IntP("threads", "t", 10, "number of concurrent workers")
	cmd.Flags().Bool("rediscover", false, "ignore a saved URL list and walk the sitemaps again")
	cmd.Flags().String("status-addr", "", "serve status endpoints on this address while running")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()
	summary, err := appInstance.Run(cmd.Context())
	appInstance.Logger().Info("harvest command finished",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("elapsed", summary.Elapsed.Round(time.Millisecond)))
	return err
}
