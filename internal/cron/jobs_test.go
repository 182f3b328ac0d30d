package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medimarthq/settlement-backend/internal/adjustments"
	"github.com/medimarthq/settlement-backend/internal/points"
	"github.com/medimarthq/settlement-backend/internal/refunds"
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/types"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test"})
}

type fakeSweeper struct {
	result *points.SweepResult
	err    error
	asOf   time.Time
}

func (f *fakeSweeper) SweepExpired(ctx context.Context, asOf time.Time, batchSize int) (*points.SweepResult, error) {
	f.asOf = asOf
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestPointsExpiryJobReportsSweep(t *testing.T) {
	sweeper := &fakeSweeper{result: &points.SweepResult{LedgersSwept: 3, ExpiredPoints: 900}}
	job, err := NewPointsExpiryJob(PointsExpiryJobParams{
		Logger: testLogger(),
		Points: sweeper,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if sweeper.asOf.IsZero() {
		t.Fatal("sweep never invoked")
	}
}

func TestPointsExpiryJobPropagatesError(t *testing.T) {
	job, err := NewPointsExpiryJob(PointsExpiryJobParams{
		Logger: testLogger(),
		Points: &fakeSweeper{err: errors.New("db down")},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeReplayer struct {
	report  *refunds.ReplayReport
	pending int64
	err     error
	calls   int
}

func (f *fakeReplayer) ProcessDueTasks(ctx context.Context, asOf time.Time, limit int) (*refunds.ReplayReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

func (f *fakeReplayer) PendingTaskCount(ctx context.Context) (int64, error) {
	return f.pending, nil
}

func TestReconciliationJobReplaysDueTasks(t *testing.T) {
	replayer := &fakeReplayer{report: &refunds.ReplayReport{Completed: 2}, pending: 1}
	job, err := NewReconciliationJob(ReconciliationJobParams{
		Logger:  testLogger(),
		Refunds: replayer,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	if replayer.calls != 1 {
		t.Fatalf("expected one sweep got %d", replayer.calls)
	}
}

func TestReconciliationJobRetriesTransientFailures(t *testing.T) {
	replayer := &fakeReplayer{err: errors.New("db down")}
	job, err := NewReconciliationJob(ReconciliationJobParams{
		Logger:  testLogger(),
		Refunds: replayer,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if replayer.calls < 2 {
		t.Fatalf("expected retries got %d calls", replayer.calls)
	}
}

type fakeRetentionRepo struct {
	cutoff  time.Time
	deleted int64
}

func (f *fakeRetentionRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

func TestOutboxRetentionJobUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &fakeRetentionRepo{deleted: 12}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		Repository: repo,
		Retention:  7,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}
	want := now.Add(-7 * 24 * time.Hour)
	if !repo.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s got %s", want, repo.cutoff)
	}
}

type fakeSummarizer struct {
	summary *adjustments.RevenueSummary
	from    time.Time
	to      time.Time
}

func (f *fakeSummarizer) RevenueSummary(ctx context.Context, dateRange types.DateRange) (*adjustments.RevenueSummary, error) {
	f.from = dateRange.From
	f.to = dateRange.To
	return f.summary, nil
}

type fakeWarehouse struct {
	table string
	rows  []any
	err   error
}

func (f *fakeWarehouse) InsertRows(ctx context.Context, table string, rows []any) error {
	if f.err != nil {
		return f.err
	}
	f.table = table
	f.rows = rows
	return nil
}

func TestRevenueExportJobExportsYesterday(t *testing.T) {
	now := time.Date(2026, 3, 10, 4, 30, 0, 0, time.UTC)
	summarizer := &fakeSummarizer{summary: &adjustments.RevenueSummary{
		TotalCount:             4,
		TotalRefundAmountCents: 60000,
	}}
	warehouse := &fakeWarehouse{}
	job, err := NewRevenueExportJob(RevenueExportJobParams{
		Logger:      testLogger(),
		Adjustments: summarizer,
		Warehouse:   warehouse,
		Table:       "revenue_summaries",
		Now:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run job: %v", err)
	}

	wantFrom := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !summarizer.from.Equal(wantFrom) || !summarizer.to.Equal(wantTo) {
		t.Fatalf("unexpected window %s..%s", summarizer.from, summarizer.to)
	}
	if warehouse.table != "revenue_summaries" || len(warehouse.rows) != 1 {
		t.Fatalf("unexpected insert %s %d rows", warehouse.table, len(warehouse.rows))
	}
	row, ok := warehouse.rows[0].(RevenueSummaryRow)
	if !ok {
		t.Fatal("row type mismatch")
	}
	if row.TotalCount != 4 || row.TotalRefundAmountCents != 60000 {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestRevenueExportJobPropagatesInsertError(t *testing.T) {
	job, err := NewRevenueExportJob(RevenueExportJobParams{
		Logger:      testLogger(),
		Adjustments: &fakeSummarizer{summary: &adjustments.RevenueSummary{}},
		Warehouse:   &fakeWarehouse{err: errors.New("stream blocked")},
		Table:       "revenue_summaries",
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
