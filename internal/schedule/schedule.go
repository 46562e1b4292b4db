// Package schedule runs the periodic sweep pipeline as a Temporal workflow:
// verify, then search, then crawl, then parse.
package schedule

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/portal-resolver/internal/batch"
	"github.com/sells-group/portal-resolver/internal/verify"
)

// DefaultTaskQueue is the queue the worker polls.
const DefaultTaskQueue = "portal-sweeps"

// WorkflowID names the single scheduled sweep execution.
const WorkflowID = "portal-sweep"

// Params size each stage. Zero sizes use the component defaults.
type Params struct {
	VerifySize int `json:"verify_size"`
	SearchSize int `json:"search_size"`
	CrawlSize  int `json:"crawl_size"`
	ParseSize  int `json:"parse_size"`
	// StageTimeout bounds one stage.
	StageTimeout time.Duration `json:"stage_timeout"`
}

// Report collects the stage summaries.
type Report struct {
	Verify *verify.Summary `json:"verify"`
	Search *batch.Summary  `json:"search"`
	Crawl  *batch.Summary  `json:"crawl"`
	Parse  *batch.Summary  `json:"parse"`
}

// Verifier runs the verification stage.
type Verifier interface {
	Sweep(ctx context.Context, size int) (*verify.Summary, error)
}

// Sweeper runs the batch stages.
type Sweeper interface {
	SearchSweep(ctx context.Context, n int) (*batch.Summary, error)
	CrawlSweep(ctx context.Context, n int) (*batch.Summary, error)
	ParseSweep(ctx context.Context, n int) (*batch.Summary, error)
}

// Activities exposes the sweeps to Temporal.
type Activities struct {
	Verifier Verifier
	Batch    Sweeper
}

// Verify runs a verification sweep.
func (a *Activities) Verify(ctx context.Context, n int) (*verify.Summary, error) {
	return a.Verifier.Sweep(ctx, n)
}

// Search runs a search sweep.
func (a *Activities) Search(ctx context.Context, n int) (*batch.Summary, error) {
	return a.Batch.SearchSweep(ctx, n)
}

// Crawl runs a crawl sweep.
func (a *Activities) Crawl(ctx context.Context, n int) (*batch.Summary, error) {
	return a.Batch.CrawlSweep(ctx, n)
}

// Parse runs a parse sweep.
func (a *Activities) Parse(ctx context.Context, n int) (*batch.Summary, error) {
	return a.Batch.ParseSweep(ctx, n)
}

// SweepWorkflow runs the stages in order and stops at the first failed
// stage. Stages are not retried by Temporal: item-level failures are
// already recorded by the sweeps and picked up by the next run.
func SweepWorkflow(ctx workflow.Context, p Params) (*Report, error) {
	timeout := p.StageTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	log := workflow.GetLogger(ctx)

	var a *Activities
	rep := &Report{}
	if err := workflow.ExecuteActivity(ctx, a.Verify, p.VerifySize).Get(ctx, &rep.Verify); err != nil {
		return rep, eris.Wrap(err, "schedule: verify stage")
	}
	if err := workflow.ExecuteActivity(ctx, a.Search, p.SearchSize).Get(ctx, &rep.Search); err != nil {
		return rep, eris.Wrap(err, "schedule: search stage")
	}
	if err := workflow.ExecuteActivity(ctx, a.Crawl, p.CrawlSize).Get(ctx, &rep.Crawl); err != nil {
		return rep, eris.Wrap(err, "schedule: crawl stage")
	}
	if err := workflow.ExecuteActivity(ctx, a.Parse, p.ParseSize).Get(ctx, &rep.Parse); err != nil {
		return rep, eris.Wrap(err, "schedule: parse stage")
	}
	log.Info("sweep workflow complete")
	return rep, nil
}

// NewWorker registers the workflow and activities on queue.
func NewWorker(c client.Client, queue string, acts *Activities) worker.Worker {
	if queue == "" {
		queue = DefaultTaskQueue
	}
	w := worker.New(c, queue, worker.Options{})
	w.RegisterWorkflow(SweepWorkflow)
	w.RegisterActivity(acts)
	return w
}

// Start schedules SweepWorkflow. A non-empty cron expression makes it
// recurring; an already running schedule is left alone.
func Start(ctx context.Context, c client.Client, queue, cron string, p Params) (client.WorkflowRun, error) {
	if queue == "" {
		queue = DefaultTaskQueue
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           WorkflowID,
		TaskQueue:    queue,
		CronSchedule: cron,
	}, SweepWorkflow, p)
	if err != nil {
		return nil, eris.Wrap(err, "schedule: start sweep workflow")
	}
	zap.L().Info("schedule: sweep workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("cron", cron),
	)
	return run, nil
}
