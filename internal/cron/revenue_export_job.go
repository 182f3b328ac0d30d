package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/medimarthq/settlement-backend/internal/adjustments"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/types"
)

type revenueSummarizer interface {
	RevenueSummary(ctx context.Context, dateRange types.DateRange) (*adjustments.RevenueSummary, error)
}

type warehouseInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// RevenueSummaryRow is the warehouse shape of one day of adjustment totals.
type RevenueSummaryRow struct {
	Date                    time.Time `bigquery:"date"`
	TotalCount              int64     `bigquery:"total_count"`
	TotalRefundAmountCents  int64     `bigquery:"total_refund_amount_cents"`
	TotalVendorDeltaCents   int64     `bigquery:"total_vendor_delta_cents"`
	TotalPlatformDeltaCents int64     `bigquery:"total_platform_delta_cents"`
	TotalPointsCredited     int64     `bigquery:"total_points_credited"`
	ExportedAt              time.Time `bigquery:"exported_at"`
}

// RevenueExportJobParams configure the daily warehouse export.
type RevenueExportJobParams struct {
	Logger      *logger.Logger
	Adjustments revenueSummarizer
	Warehouse   warehouseInserter
	Table       string
	Now         func() time.Time
}

// NewRevenueExportJob builds the job that pushes yesterday's adjustment
// totals to the analytics warehouse.
func NewRevenueExportJob(params RevenueExportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Adjustments == nil {
		return nil, fmt.Errorf("adjustments service required")
	}
	if params.Warehouse == nil {
		return nil, fmt.Errorf("warehouse client required")
	}
	if params.Table == "" {
		return nil, fmt.Errorf("warehouse table required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &revenueExportJob{
		logg:        params.Logger,
		adjustments: params.Adjustments,
		warehouse:   params.Warehouse,
		table:       params.Table,
		now:         now,
	}, nil
}

type revenueExportJob struct {
	logg        *logger.Logger
	adjustments revenueSummarizer
	warehouse   warehouseInserter
	table       string
	now         func() time.Time
}

func (j *revenueExportJob) Name() string { return "revenue-export" }

func (j *revenueExportJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	dayEnd := now.Truncate(24 * time.Hour)
	dayStart := dayEnd.Add(-24 * time.Hour)

	summary, err := j.adjustments.RevenueSummary(ctx, types.DateRange{From: dayStart, To: dayEnd})
	if err != nil {
		return fmt.Errorf("summarize revenue: %w", err)
	}

	row := RevenueSummaryRow{
		Date:                    dayStart,
		TotalCount:              summary.TotalCount,
		TotalRefundAmountCents:  summary.TotalRefundAmountCents,
		TotalVendorDeltaCents:   summary.TotalVendorDeltaCents,
		TotalPlatformDeltaCents: summary.TotalPlatformDeltaCents,
		TotalPointsCredited:     summary.TotalPointsCredited,
		ExportedAt:              now,
	}
	if err := j.warehouse.InsertRows(ctx, j.table, []any{row}); err != nil {
		return fmt.Errorf("insert revenue summary: %w", err)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"date":        dayStart.Format("2006-01-02"),
		"adjustments": summary.TotalCount,
	})
	j.logg.Info(logCtx, "revenue summary exported")
	return nil
}
