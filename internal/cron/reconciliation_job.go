package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"

	"github.com/medimarthq/settlement-backend/internal/refunds"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/metrics"
)

const defaultReconciliationLimit = 100

type refundReplayer interface {
	ProcessDueTasks(ctx context.Context, asOf time.Time, limit int) (*refunds.ReplayReport, error)
	PendingTaskCount(ctx context.Context) (int64, error)
}

// ReconciliationJobParams configure the refund bookkeeping replay job.
type ReconciliationJobParams struct {
	Logger  *logger.Logger
	Refunds refundReplayer
	Metrics *metrics.SettlementMetrics
	Limit   int
	Now     func() time.Time
}

// NewReconciliationJob builds the job that replays refunds whose gateway leg
// succeeded but whose bookkeeping did not commit.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refunds service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconciliationLimit
	}
	return &reconciliationJob{
		logg:    params.Logger,
		refunds: params.Refunds,
		metrics: params.Metrics,
		limit:   limit,
		now:     now,
	}, nil
}

type reconciliationJob struct {
	logg    *logger.Logger
	refunds refundReplayer
	metrics *metrics.SettlementMetrics
	limit   int
	now     func() time.Time
}

func (j *reconciliationJob) Name() string { return "refund-reconciliation" }

func (j *reconciliationJob) Run(ctx context.Context) error {
	var report *refunds.ReplayReport
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var sweepErr error
		report, sweepErr = j.refunds.ProcessDueTasks(ctx, j.now().UTC(), j.limit)
		if sweepErr != nil {
			return retry.RetryableError(sweepErr)
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("process due tasks: %w", err)
	}

	pending, countErr := j.refunds.PendingTaskCount(ctx)
	if countErr != nil {
		err = multierr.Append(err, fmt.Errorf("count pending tasks: %w", countErr))
	} else if j.metrics != nil {
		j.metrics.SetReconciliationBacklog(int(pending))
	}
	if report != nil {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"completed": report.Completed,
			"failed":    report.Failed,
			"abandoned": report.Abandoned,
			"pending":   pending,
		})
		j.logg.Info(logCtx, "reconciliation replay complete")
	}
	return err
}
