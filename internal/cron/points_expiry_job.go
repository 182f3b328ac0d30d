package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/medimarthq/settlement-backend/internal/points"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/metrics"
)

const defaultExpiryBatchSize = 500

type pointsSweeper interface {
	SweepExpired(ctx context.Context, asOf time.Time, batchSize int) (*points.SweepResult, error)
}

// PointsExpiryJobParams configure the scheduled loyalty expiry sweep.
type PointsExpiryJobParams struct {
	Logger    *logger.Logger
	Points    pointsSweeper
	Metrics   *metrics.SettlementMetrics
	BatchSize int
	Now       func() time.Time
}

// NewPointsExpiryJob builds the job that retires earned points past their
// expiry window, independent of read traffic.
func NewPointsExpiryJob(params PointsExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Points == nil {
		return nil, fmt.Errorf("points service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultExpiryBatchSize
	}
	return &pointsExpiryJob{
		logg:      params.Logger,
		points:    params.Points,
		metrics:   params.Metrics,
		batchSize: batchSize,
		now:       now,
	}, nil
}

type pointsExpiryJob struct {
	logg      *logger.Logger
	points    pointsSweeper
	metrics   *metrics.SettlementMetrics
	batchSize int
	now       func() time.Time
}

func (j *pointsExpiryJob) Name() string { return "points-expiry" }

func (j *pointsExpiryJob) Run(ctx context.Context) error {
	result, err := j.points.SweepExpired(ctx, j.now().UTC(), j.batchSize)
	if err != nil {
		return fmt.Errorf("points expiry sweep: %w", err)
	}
	if j.metrics != nil && result.LedgersSwept > 0 {
		j.metrics.IncPointsMutation("expired")
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"ledgers_swept":  result.LedgersSwept,
		"expired_points": result.ExpiredPoints,
	})
	j.logg.Info(logCtx, "points expiry sweep complete")
	return nil
}
