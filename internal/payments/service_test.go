package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/config"
	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/metrics"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
)

type stubPaymentsRepo struct {
	payments           map[uuid.UUID]*models.Payment
	commission         *models.VendorCommission
	order              *models.Order
	orderPaymentStatus enums.OrderPaymentStatus
}

func newStubPaymentsRepo() *stubPaymentsRepo {
	return &stubPaymentsRepo{payments: map[uuid.UUID]*models.Payment{}}
}

func (s *stubPaymentsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubPaymentsRepo) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	for _, existing := range s.payments {
		if existing.OrderID == payment.OrderID && existing.VendorID == payment.VendorID {
			return gorm.ErrDuplicatedKey
		}
	}
	clone := *payment
	s.payments[payment.ID] = &clone
	return nil
}

func (s *stubPaymentsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, ok := s.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *payment
	return &clone, nil
}

func (s *stubPaymentsRepo) FindByOrderAndVendor(ctx context.Context, orderID, vendorID uuid.UUID) (*models.Payment, error) {
	for _, payment := range s.payments {
		if payment.OrderID == orderID && payment.VendorID == vendorID {
			clone := *payment
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPaymentsRepo) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var out []models.Payment
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			out = append(out, *payment)
		}
	}
	return out, nil
}

func (s *stubPaymentsRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	payment, ok := s.payments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range updates {
		switch key {
		case "status":
			payment.Status = value.(enums.PaymentStatus)
		case "completed_at":
			ts := value.(time.Time)
			payment.CompletedAt = &ts
		case "failure_reason":
			reason := value.(string)
			payment.FailureReason = &reason
		case "refunded_cents":
			payment.RefundedCents = value.(int64)
		}
	}
	return nil
}

func (s *stubPaymentsRepo) List(ctx context.Context, filter ReportFilter) ([]models.Payment, error) {
	var out []models.Payment
	for _, payment := range s.payments {
		out = append(out, *payment)
	}
	return out, nil
}

func (s *stubPaymentsRepo) FindCommission(ctx context.Context, vendorID uuid.UUID) (*models.VendorCommission, error) {
	if s.commission == nil || s.commission.VendorID != vendorID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.commission, nil
}

func (s *stubPaymentsRepo) FindOrderWithItems(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != orderID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

func (s *stubPaymentsRepo) UpdateOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderPaymentStatus) error {
	s.orderPaymentStatus = status
	return nil
}

type stubOutboxPublisher struct {
	events []outbox.DomainEvent
	seen   map[string]bool
	err    error
}

func (s *stubOutboxPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubOutboxPublisher) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	key := string(event.EventType) + event.AggregateID.String()
	if s.seen[key] {
		return nil
	}
	s.seen[key] = true
	s.events = append(s.events, event)
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

func settlementConfig() config.SettlementConfig {
	return config.SettlementConfig{
		DefaultCommissionBps:      1500,
		RefundPointsPerUnit:       10,
		PointsExpiryDays:          365,
		ReconciliationMaxAttempts: 8,
	}
}

func newTestService(t *testing.T, repo Repository, ob outboxPublisher) Service {
	t.Helper()
	svc, err := NewService(repo, stubTxRunner{}, ob, settlementConfig(), nil)
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc
}

func TestSplitAmountExact(t *testing.T) {
	tests := []struct {
		amount       int64
		bps          int
		wantVendor   int64
		wantPlatform int64
	}{
		{60000, 1500, 51000, 9000},
		{40000, 1500, 34000, 6000},
		{101, 1500, 86, 15},
		{1, 1500, 1, 0},
	}
	for _, tt := range tests {
		vendor, platform := SplitAmount(tt.amount, tt.bps)
		if vendor != tt.wantVendor || platform != tt.wantPlatform {
			t.Fatalf("split(%d, %d) = %d/%d, want %d/%d",
				tt.amount, tt.bps, vendor, platform, tt.wantVendor, tt.wantPlatform)
		}
		if vendor+platform != tt.amount {
			t.Fatalf("split(%d, %d) does not sum to amount", tt.amount, tt.bps)
		}
	}
}

func TestCreateUsesDefaultCommission(t *testing.T) {
	repo := newStubPaymentsRepo()
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	payment, err := svc.Create(context.Background(), CreateInput{
		OrderID:     uuid.New(),
		VendorID:    uuid.New(),
		AmountCents: 60000,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if payment.CommissionBps != 1500 {
		t.Fatalf("expected default commission 1500 got %d", payment.CommissionBps)
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("expected pending got %s", payment.Status)
	}
	if payment.VendorEarningsCents != 51000 || payment.PlatformRevenueCents != 9000 {
		t.Fatalf("unexpected split %d/%d", payment.VendorEarningsCents, payment.PlatformRevenueCents)
	}
	if !strings.HasPrefix(payment.TransactionRef, "TXN-") {
		t.Fatalf("unexpected transaction ref %q", payment.TransactionRef)
	}
}

func TestCreateUsesVendorCommission(t *testing.T) {
	vendorID := uuid.New()
	repo := newStubPaymentsRepo()
	repo.commission = &models.VendorCommission{VendorID: vendorID, CommissionBps: 2000}
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	payment, err := svc.Create(context.Background(), CreateInput{
		OrderID:     uuid.New(),
		VendorID:    vendorID,
		AmountCents: 10000,
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if payment.CommissionBps != 2000 {
		t.Fatalf("expected commission 2000 got %d", payment.CommissionBps)
	}
	if payment.VendorEarningsCents != 8000 || payment.PlatformRevenueCents != 2000 {
		t.Fatalf("unexpected split %d/%d", payment.VendorEarningsCents, payment.PlatformRevenueCents)
	}
}

func TestCreateForOrderSplitsPerVendor(t *testing.T) {
	orderID := uuid.New()
	vendorA := uuid.New()
	vendorB := uuid.New()
	repo := newStubPaymentsRepo()
	repo.order = &models.Order{
		ID:       orderID,
		Currency: enums.CurrencyUSD,
		Items: []models.OrderLineItem{
			{OrderID: orderID, VendorID: vendorA, TotalCents: 60000},
			{OrderID: orderID, VendorID: vendorB, TotalCents: 25000},
			{OrderID: orderID, VendorID: vendorB, TotalCents: 15000},
		},
	}
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	created, err := svc.CreateForOrder(context.Background(), CreateForOrderInput{OrderID: orderID})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 payments got %d", len(created))
	}
	byVendor := map[uuid.UUID]models.Payment{}
	for _, p := range created {
		byVendor[p.VendorID] = p
	}
	if byVendor[vendorA].AmountCents != 60000 || byVendor[vendorA].VendorEarningsCents != 51000 {
		t.Fatalf("vendor A amounts wrong: %+v", byVendor[vendorA])
	}
	if byVendor[vendorB].AmountCents != 40000 || byVendor[vendorB].PlatformRevenueCents != 6000 {
		t.Fatalf("vendor B amounts wrong: %+v", byVendor[vendorB])
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	orderID := uuid.New()
	vendorID := uuid.New()
	repo := newStubPaymentsRepo()
	ob := &stubOutboxPublisher{}
	svc := newTestService(t, repo, ob)

	if _, err := svc.Create(context.Background(), CreateInput{
		OrderID:     orderID,
		VendorID:    vendorID,
		AmountCents: 10000,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	input := CompleteInput{OrderID: orderID, VendorID: vendorID, ActorUserID: uuid.New()}
	first, err := svc.Complete(context.Background(), input)
	if err != nil {
		t.Fatalf("first complete failed: %v", err)
	}
	if first.Status != enums.PaymentStatusCompleted || first.CompletedAt == nil {
		t.Fatalf("expected completed payment, got %+v", first)
	}
	if repo.orderPaymentStatus != enums.OrderPaymentStatusPaid {
		t.Fatalf("expected order payment status paid got %s", repo.orderPaymentStatus)
	}

	second, err := svc.Complete(context.Background(), input)
	if err != nil {
		t.Fatalf("second complete failed: %v", err)
	}
	if second.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed on replay got %s", second.Status)
	}
	if len(ob.events) != 1 {
		t.Fatalf("expected exactly one completed event got %d", len(ob.events))
	}
	if ob.events[0].EventType != enums.EventPaymentCompleted {
		t.Fatalf("unexpected event type %s", ob.events[0].EventType)
	}
}

func TestCompleteReconstructsMissingPayment(t *testing.T) {
	orderID := uuid.New()
	vendorID := uuid.New()
	repo := newStubPaymentsRepo()
	repo.order = &models.Order{
		ID:       orderID,
		Currency: enums.CurrencyUSD,
		Items: []models.OrderLineItem{
			{OrderID: orderID, VendorID: vendorID, TotalCents: 20000},
			{OrderID: orderID, VendorID: uuid.New(), TotalCents: 5000},
		},
	}
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	payment, err := svc.Complete(context.Background(), CompleteInput{
		OrderID:  orderID,
		VendorID: vendorID,
	})
	if err != nil {
		t.Fatalf("expected reconstruction got %v", err)
	}
	if payment.AmountCents != 20000 {
		t.Fatalf("expected reconstructed amount 20000 got %d", payment.AmountCents)
	}
	if payment.Status != enums.PaymentStatusCompleted {
		t.Fatalf("expected completed got %s", payment.Status)
	}
}

func TestCompleteUnknownVendorFails(t *testing.T) {
	orderID := uuid.New()
	repo := newStubPaymentsRepo()
	repo.order = &models.Order{ID: orderID}
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	_, err := svc.Complete(context.Background(), CompleteInput{
		OrderID:  orderID,
		VendorID: uuid.New(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found got %v", err)
	}
}

func TestMarkRefundedGuards(t *testing.T) {
	orderID := uuid.New()
	vendorID := uuid.New()
	repo := newStubPaymentsRepo()
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	created, err := svc.Create(context.Background(), CreateInput{
		OrderID:     orderID,
		VendorID:    vendorID,
		AmountCents: 10000,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Refund of a pending payment is a state conflict.
	_, err = svc.MarkRefundedTx(context.Background(), &gorm.DB{}, RefundInput{
		PaymentID:   created.ID,
		AmountCents: 1000,
		RefundRef:   "rf-1",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict got %v", err)
	}

	if _, err := svc.Complete(context.Background(), CompleteInput{OrderID: orderID, VendorID: vendorID}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// Over-refund is rejected.
	_, err = svc.MarkRefundedTx(context.Background(), &gorm.DB{}, RefundInput{
		PaymentID:   created.ID,
		AmountCents: 10001,
		RefundRef:   "rf-1",
	})
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}

	refunded, err := svc.MarkRefundedTx(context.Background(), &gorm.DB{}, RefundInput{
		PaymentID:   created.ID,
		AmountCents: 4000,
		Reason:      "damaged item",
		RefundRef:   "rf-1",
		ProcessedBy: uuid.New(),
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if refunded.Status != enums.PaymentStatusRefunded || refunded.RefundedCents != 4000 {
		t.Fatalf("unexpected refunded payment %+v", refunded)
	}
	// The stored split is untouched by the refund.
	if refunded.VendorEarningsCents+refunded.PlatformRevenueCents != refunded.AmountCents {
		t.Fatal("split invariant broken after refund")
	}
}

func TestDeriveOrderPaymentStatus(t *testing.T) {
	completed := models.Payment{Status: enums.PaymentStatusCompleted}
	pending := models.Payment{Status: enums.PaymentStatusPending}
	refunded := models.Payment{Status: enums.PaymentStatusRefunded}

	tests := []struct {
		name     string
		payments []models.Payment
		want     enums.OrderPaymentStatus
	}{
		{"none", nil, enums.OrderPaymentStatusUnpaid},
		{"all pending", []models.Payment{pending, pending}, enums.OrderPaymentStatusUnpaid},
		{"partial", []models.Payment{completed, pending}, enums.OrderPaymentStatusPartiallyPaid},
		{"paid", []models.Payment{completed, completed}, enums.OrderPaymentStatusPaid},
		{"partially refunded", []models.Payment{refunded, completed}, enums.OrderPaymentStatusPartiallyRefunded},
		{"refunded", []models.Payment{refunded, refunded}, enums.OrderPaymentStatusRefunded},
	}
	for _, tt := range tests {
		if got := DeriveOrderPaymentStatus(tt.payments); got != tt.want {
			t.Fatalf("%s: expected %s got %s", tt.name, tt.want, got)
		}
	}
}

func TestLifecycleMovesPaymentCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewSettlementMetrics(reg)
	repo := newStubPaymentsRepo()
	svc, err := NewService(repo, stubTxRunner{}, &stubOutboxPublisher{}, settlementConfig(), m)
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}

	orderID := uuid.New()
	vendorID := uuid.New()
	created, err := svc.Create(context.Background(), CreateInput{
		OrderID:     orderID,
		VendorID:    vendorID,
		AmountCents: 10000,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Complete(context.Background(), CompleteInput{OrderID: orderID, VendorID: vendorID}); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, err := svc.MarkRefundedTx(context.Background(), &gorm.DB{}, RefundInput{
		PaymentID:   created.ID,
		AmountCents: 4000,
		Reason:      "damaged item",
		RefundRef:   "rf-metrics",
		ProcessedBy: uuid.New(),
	}); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	failing, err := svc.Create(context.Background(), CreateInput{
		OrderID:     uuid.New(),
		VendorID:    uuid.New(),
		AmountCents: 5000,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Fail(context.Background(), FailInput{PaymentID: failing.ID, Reason: "card declined"}); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for status, want := range map[string]float64{"completed": 1, "refunded": 1, "failed": 1} {
		if got := paymentCounter(t, mfs, status); got != want {
			t.Fatalf("payments{status=%s} = %f, want %f", status, got, want)
		}
	}
	if got := refundedCentsCounter(t, mfs); got != 4000 {
		t.Fatalf("refunded cents = %f, want 4000", got)
	}
}

func paymentCounter(t *testing.T, mfs []*dto.MetricFamily, status string) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != "settlement_payments_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == status {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("settlement_payments_total{status=%s} not found", status)
	return 0
}

func refundedCentsCounter(t *testing.T, mfs []*dto.MetricFamily) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() == "settlement_refunded_cents_total" && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("settlement_refunded_cents_total not found")
	return 0
}
