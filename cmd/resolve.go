package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/config"
)

var resolveForce bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <geoid>",
	Short: "Resolve one jurisdiction's permit portal",
	Long:  "Runs the cache, offline and AI tiers for a single jurisdiction and prints the result. --force skips the cache.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeResolve)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Resolver.Resolve(ctx, args[0], resolveForce)
		if err != nil {
			return err
		}

		zap.L().Info("resolution complete",
			zap.String("geoid", res.GeoID),
			zap.String("tier", string(res.Tier)),
			zap.Float64("confidence", res.Confidence),
		)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveForce, "force", false, "skip the cache tier")
	rootCmd.AddCommand(resolveCmd)
}
