package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/config"
	"github.com/sells-group/portal-resolver/internal/schedule"
)

var (
	workerSchedule bool
	workerParams   schedule.Params
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for scheduled sweeps",
	Long:  "Registers the sweep workflow and its activities. With --schedule it also starts the recurring workflow on temporal.cron.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeWorker)
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := schedule.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer c.Close()

		if workerSchedule {
			if _, err := schedule.Start(ctx, c, cfg.Temporal.TaskQueue, cfg.Temporal.Cron, workerParams); err != nil {
				return err
			}
		}

		w := schedule.NewWorker(c, cfg.Temporal.TaskQueue, &schedule.Activities{
			Verifier: env.Verifier,
			Batch:    env.Batch,
		})

		zap.L().Info("starting worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerSchedule, "schedule", false, "start the recurring sweep workflow")
	workerCmd.Flags().IntVar(&workerParams.VerifySize, "verify-size", 0, "records per verify stage")
	workerCmd.Flags().IntVar(&workerParams.SearchSize, "search-size", 0, "jobs per search stage")
	workerCmd.Flags().IntVar(&workerParams.CrawlSize, "crawl-size", 0, "endpoints per crawl stage")
	workerCmd.Flags().IntVar(&workerParams.ParseSize, "parse-size", 0, "snapshots per parse stage")
	workerCmd.Flags().DurationVar(&workerParams.StageTimeout, "stage-timeout", 0, "per-stage timeout (default 1h)")
	rootCmd.AddCommand(workerCmd)
}
