package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Walk the sitemaps and write all_urls.txt",
		RunE:  runDiscoverCommand,
	}
	cmd.Flags().Bool("rediscover", false, "ignore a saved URL list and walk the sitemaps again")
	return cmd
}

func runDiscoverCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()
	rediscover, err := cmd.Flags().GetBool("rediscover")
	if err != nil {
		return err
	}
	res, err := appInstance.Discover(cmd.Context(), rediscover)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.Int("urls", len(res.URLs)),
		zap.Bool("reused_list", res.Skipped),
		zap.Duration("elapsed", res.Elapsed),
	}
	for _, tr := range res.Types {
		fields = append(fields, zap.String("stop_"+tr.Type, tr.Stop.String()))
	}
	appInstance.Logger().Info("discovery finished", fields...)
	return nil
}
