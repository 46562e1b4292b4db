package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/config"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints <county-geoid>",
	Short: "Turn a county's search candidates into crawlable endpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSweep)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Batch.ClassifyEndpoints(ctx, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("endpoints classified", zap.String("county", args[0]), zap.Int64("inserted", n))
		return printJSON(cmd.OutOrStdout(), map[string]int64{"inserted": n})
	},
}

var freshnessCmd = &cobra.Command{
	Use:   "freshness <geoid> <url>",
	Short: "Report snapshot staleness and change for one portal URL",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSweep)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Batch.Freshness(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rep)
	},
}

func init() {
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(freshnessCmd)
}
