package refunds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/internal/adjustments"
	"github.com/medimarthq/settlement-backend/internal/payments"
	"github.com/medimarthq/settlement-backend/internal/points"
	"github.com/medimarthq/settlement-backend/pkg/config"
	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/gateway"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
)

type stubReconRepo struct {
	tasks map[uuid.UUID]*models.ReconciliationTask
}

func newStubReconRepo() *stubReconRepo {
	return &stubReconRepo{tasks: map[uuid.UUID]*models.ReconciliationTask{}}
}

func (s *stubReconRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubReconRepo) CreateTask(ctx context.Context, task *models.ReconciliationTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *stubReconRepo) FindTaskByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationTask, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *task
	return &clone, nil
}

func (s *stubReconRepo) FindTaskByRefundRef(ctx context.Context, refundRef string) (*models.ReconciliationTask, error) {
	for _, task := range s.tasks {
		if task.RefundRef == refundRef {
			clone := *task
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubReconRepo) ListDueTasks(ctx context.Context, asOf time.Time, limit int) ([]models.ReconciliationTask, error) {
	var out []models.ReconciliationTask
	for _, task := range s.tasks {
		if task.Status == enums.ReconciliationStatusPending && !task.NextAttemptAt.After(asOf) {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (s *stubReconRepo) UpdateTask(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	task, ok := s.tasks[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["status"]; ok {
		task.Status = v.(enums.ReconciliationStatus)
	}
	if v, ok := updates["attempt_count"]; ok {
		task.AttemptCount = v.(int)
	}
	if v, ok := updates["next_attempt_at"]; ok {
		task.NextAttemptAt = v.(time.Time)
	}
	return nil
}

func (s *stubReconRepo) CountPending(ctx context.Context) (int64, error) {
	var count int64
	for _, task := range s.tasks {
		if task.Status == enums.ReconciliationStatusPending {
			count++
		}
	}
	return count, nil
}

type stubGateway struct {
	refunds []gateway.RefundParams
	err     error
}

func (s *stubGateway) Charge(ctx context.Context, params gateway.ChargeParams) (*gateway.ChargeResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubGateway) Refund(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.refunds = append(s.refunds, params)
	return &gateway.RefundResult{RefundID: "gw-refund-1", Status: "COMPLETED"}, nil
}

func (s *stubGateway) NewIdempotencyKey(prefix string) string { return prefix + "-key" }

type stubPaymentSvc struct {
	payment  *models.Payment
	refunded []payments.RefundInput
	err      error
}

func (s *stubPaymentSvc) Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	if s.payment == nil || s.payment.ID != paymentID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	clone := *s.payment
	return &clone, nil
}

func (s *stubPaymentSvc) MarkRefundedTx(ctx context.Context, tx *gorm.DB, input payments.RefundInput) (*models.Payment, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.refunded = append(s.refunded, input)
	clone := *s.payment
	clone.Status = enums.PaymentStatusRefunded
	clone.RefundedCents += input.AmountCents
	return &clone, nil
}

type stubAdjustmentSvc struct {
	created []adjustments.CreateRefundAdjustmentInput
	points  int64
	err     error
}

func (s *stubAdjustmentSvc) CreateRefundAdjustmentTx(ctx context.Context, tx *gorm.DB, input adjustments.CreateRefundAdjustmentInput) (*models.RevenueAdjustment, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created = append(s.created, input)
	return &models.RevenueAdjustment{
		ID:                uuid.New(),
		RefundRef:         input.RefundRef,
		RefundAmountCents: input.RefundAmountCents,
		PointsCredited:    s.points,
	}, nil
}

func (s *stubAdjustmentSvc) FindByRefundRef(ctx context.Context, refundRef string) (*models.RevenueAdjustment, error) {
	return nil, gorm.ErrRecordNotFound
}

type stubPointsSvc struct {
	credits []points.AddPointsInput
	err     error
}

func (s *stubPointsSvc) AddPointsTx(ctx context.Context, tx *gorm.DB, input points.AddPointsInput) (*models.PointsLedger, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.credits = append(s.credits, input)
	return &models.PointsLedger{CustomerID: input.CustomerID, AvailablePoints: input.Points}, nil
}

type stubTickets struct {
	resolved []uuid.UUID
}

func (s *stubTickets) Resolve(ctx context.Context, tx *gorm.DB, ticketID uuid.UUID, note string) error {
	s.resolved = append(s.resolved, ticketID)
	return nil
}

type stubOutboxPublisher struct {
	events []outbox.DomainEvent
}

func (s *stubOutboxPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type testDeps struct {
	repo        *stubReconRepo
	gateway     *stubGateway
	payments    *stubPaymentSvc
	adjustments *stubAdjustmentSvc
	points      *stubPointsSvc
	tickets     *stubTickets
	outbox      *stubOutboxPublisher
}

func newTestDeps() *testDeps {
	return &testDeps{
		repo:        newStubReconRepo(),
		gateway:     &stubGateway{},
		payments:    &stubPaymentSvc{},
		adjustments: &stubAdjustmentSvc{points: 2000},
		points:      &stubPointsSvc{},
		tickets:     &stubTickets{},
		outbox:      &stubOutboxPublisher{},
	}
}

func newTestService(t *testing.T, deps *testDeps) Service {
	t.Helper()
	svc, err := NewService(
		deps.repo,
		stubTxRunner{},
		deps.outbox,
		deps.gateway,
		deps.payments,
		deps.adjustments,
		deps.points,
		deps.tickets,
		config.SettlementConfig{ReconciliationMaxAttempts: 3},
		nil,
	)
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc
}

func completedPayment() *models.Payment {
	gatewayID := "gw-payment-1"
	return &models.Payment{
		ID:               uuid.New(),
		OrderID:          uuid.New(),
		VendorID:         uuid.New(),
		AmountCents:      100000,
		Currency:         enums.CurrencyUSD,
		CommissionBps:    1500,
		Status:           enums.PaymentStatusCompleted,
		TransactionRef:   "TXN-1",
		GatewayPaymentID: &gatewayID,
	}
}

func refundInput(payment *models.Payment) ProcessRefundInput {
	ticketID := uuid.New()
	return ProcessRefundInput{
		PaymentID:       payment.ID,
		AmountCents:     20000,
		Reason:          "damaged item",
		CustomerID:      uuid.New(),
		SupportTicketID: &ticketID,
		ProcessedBy:     uuid.New(),
		ActorRole:       "support",
	}
}

func TestProcessRefundHappyPath(t *testing.T) {
	deps := newTestDeps()
	deps.payments.payment = completedPayment()
	svc := newTestService(t, deps)

	input := refundInput(deps.payments.payment)
	result, err := svc.ProcessRefund(context.Background(), input)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	if len(deps.gateway.refunds) != 1 {
		t.Fatalf("expected one gateway refund got %d", len(deps.gateway.refunds))
	}
	gatewayCall := deps.gateway.refunds[0]
	if gatewayCall.TransactionID != "gw-payment-1" || gatewayCall.AmountCents != 20000 {
		t.Fatalf("unexpected gateway call %+v", gatewayCall)
	}
	if gatewayCall.IdempotencyKey != result.RefundRef {
		t.Fatal("gateway idempotency key does not match refund ref")
	}

	if len(deps.payments.refunded) != 1 || deps.payments.refunded[0].RefundRef != result.RefundRef {
		t.Fatalf("unexpected payment refund %+v", deps.payments.refunded)
	}
	if len(deps.adjustments.created) != 1 {
		t.Fatalf("expected one adjustment got %d", len(deps.adjustments.created))
	}
	// The adjustment always reuses the commission stored on the payment.
	if deps.adjustments.created[0].CommissionBps != 1500 {
		t.Fatalf("adjustment used commission %d", deps.adjustments.created[0].CommissionBps)
	}
	if len(deps.points.credits) != 1 || deps.points.credits[0].Points != 2000 {
		t.Fatalf("unexpected points credit %+v", deps.points.credits)
	}
	if deps.points.credits[0].Type != enums.PointsTransactionRefundCredit {
		t.Fatalf("unexpected credit type %s", deps.points.credits[0].Type)
	}
	if len(deps.tickets.resolved) != 1 || deps.tickets.resolved[0] != *input.SupportTicketID {
		t.Fatalf("ticket not resolved: %+v", deps.tickets.resolved)
	}
	if result.PointsCredited != 2000 || result.GatewayRefundID != "gw-refund-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(deps.repo.tasks) != 0 {
		t.Fatal("happy path queued a reconciliation task")
	}
}

func TestProcessRefundGatewayFailureMutatesNothing(t *testing.T) {
	deps := newTestDeps()
	deps.payments.payment = completedPayment()
	deps.gateway.err = pkgerrors.New(pkgerrors.CodeDependency, "gateway unavailable")
	svc := newTestService(t, deps)

	_, err := svc.ProcessRefund(context.Background(), refundInput(deps.payments.payment))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(deps.payments.refunded) != 0 || len(deps.adjustments.created) != 0 || len(deps.points.credits) != 0 {
		t.Fatal("gateway failure mutated local state")
	}
	if len(deps.repo.tasks) != 0 {
		t.Fatal("gateway failure queued a reconciliation task")
	}
}

func TestProcessRefundBookkeepingFailureQueuesTask(t *testing.T) {
	deps := newTestDeps()
	deps.payments.payment = completedPayment()
	deps.adjustments.err = errors.New("db down")
	svc := newTestService(t, deps)

	_, err := svc.ProcessRefund(context.Background(), refundInput(deps.payments.payment))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeReconciliation {
		t.Fatalf("expected reconciliation pending got %v", err)
	}
	if len(deps.repo.tasks) != 1 {
		t.Fatalf("expected one task got %d", len(deps.repo.tasks))
	}
	for _, task := range deps.repo.tasks {
		if task.CommissionBps != 1500 || task.RefundAmountCents != 20000 {
			t.Fatalf("unexpected task %+v", task)
		}
	}
	if len(deps.outbox.events) != 1 || deps.outbox.events[0].EventType != enums.EventReconciliationQueued {
		t.Fatalf("expected reconciliation queued event got %+v", deps.outbox.events)
	}
}

func TestProcessRefundGuards(t *testing.T) {
	deps := newTestDeps()
	payment := completedPayment()
	payment.Status = enums.PaymentStatusPending
	deps.payments.payment = payment
	svc := newTestService(t, deps)

	_, err := svc.ProcessRefund(context.Background(), refundInput(payment))
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict got %v", err)
	}

	payment.Status = enums.PaymentStatusCompleted
	payment.RefundedCents = 90000
	input := refundInput(payment)
	input.AmountCents = 20000
	_, err = svc.ProcessRefund(context.Background(), input)
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
	if len(deps.gateway.refunds) != 0 {
		t.Fatal("guard failure still hit the gateway")
	}
}

func TestReplayTaskCompletes(t *testing.T) {
	deps := newTestDeps()
	deps.payments.payment = completedPayment()
	svc := newTestService(t, deps)

	ticketID := uuid.New()
	task := &models.ReconciliationTask{
		PaymentID:         deps.payments.payment.ID,
		OrderID:           deps.payments.payment.OrderID,
		VendorID:          deps.payments.payment.VendorID,
		CustomerID:        uuid.New(),
		SupportTicketID:   &ticketID,
		ProcessedBy:       uuid.New(),
		RefundRef:         "RF-1",
		RefundAmountCents: 20000,
		Reason:            "damaged item",
		CommissionBps:     1500,
		Status:            enums.ReconciliationStatusPending,
		NextAttemptAt:     time.Now().UTC(),
	}
	if err := deps.repo.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("seed task failed: %v", err)
	}

	replayed, err := svc.ReplayTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if replayed.Status != enums.ReconciliationStatusCompleted {
		t.Fatalf("expected completed got %s", replayed.Status)
	}
	if len(deps.payments.refunded) != 1 || len(deps.adjustments.created) != 1 || len(deps.points.credits) != 1 {
		t.Fatal("replay skipped a bookkeeping step")
	}
	if len(deps.tickets.resolved) != 1 {
		t.Fatal("replay did not resolve ticket")
	}

	// A second replay of the now-completed task is a no-op.
	if _, err := svc.ReplayTask(context.Background(), task.ID); err != nil {
		t.Fatalf("re-replay failed: %v", err)
	}
	if len(deps.payments.refunded) != 1 {
		t.Fatal("completed task replayed again")
	}
}

func TestReplayTaskAbandonsAfterMaxAttempts(t *testing.T) {
	deps := newTestDeps()
	deps.payments.payment = completedPayment()
	deps.payments.err = errors.New("db down")
	svc := newTestService(t, deps)

	task := &models.ReconciliationTask{
		PaymentID:         deps.payments.payment.ID,
		OrderID:           deps.payments.payment.OrderID,
		VendorID:          deps.payments.payment.VendorID,
		CustomerID:        uuid.New(),
		ProcessedBy:       uuid.New(),
		RefundRef:         "RF-2",
		RefundAmountCents: 20000,
		Reason:            "damaged item",
		CommissionBps:     1500,
		Status:            enums.ReconciliationStatusPending,
		AttemptCount:      2,
		NextAttemptAt:     time.Now().UTC(),
	}
	if err := deps.repo.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("seed task failed: %v", err)
	}

	replayed, err := svc.ReplayTask(context.Background(), task.ID)
	if err == nil {
		t.Fatal("expected replay error")
	}
	if replayed.Status != enums.ReconciliationStatusAbandoned {
		t.Fatalf("expected abandoned got %s", replayed.Status)
	}
}

func TestReplayBackoffDoubles(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{4, 8 * time.Minute},
		{10, time.Hour},
	}
	for _, tt := range tests {
		if got := replayBackoff(tt.attempts); got != tt.want {
			t.Fatalf("replayBackoff(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}
