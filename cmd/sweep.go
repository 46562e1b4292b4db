package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/api"
	"github.com/sells-group/portal-resolver/internal/config"
)

var sweepSize int

var sweepCmd = &cobra.Command{
	Use:       "sweep <kind>",
	Short:     "Run one batch sweep (seed, search, crawl, parse or verify)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{api.SweepSeed, api.SweepSearch, api.SweepCrawl, api.SweepParse, api.SweepVerify},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSweep)
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := api.RunSweep(ctx, env.Batch, env.Verifier, args[0], sweepSize)
		if err != nil {
			return err
		}

		zap.L().Info("sweep complete", zap.String("kind", args[0]), zap.Any("result", out))
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepSize, "size", 0, "items per sweep (default from config)")
	rootCmd.AddCommand(sweepCmd)
}
