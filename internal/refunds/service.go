package refunds

import (
	"context"
	"fmt"
	"strings"
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
	"github.com/medimarthq/settlement-backend/pkg/logger"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
	"github.com/medimarthq/settlement-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type paymentService interface {
	Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, input payments.RefundInput) (*models.Payment, error)
}

type adjustmentService interface {
	CreateRefundAdjustmentTx(ctx context.Context, tx *gorm.DB, input adjustments.CreateRefundAdjustmentInput) (*models.RevenueAdjustment, error)
	FindByRefundRef(ctx context.Context, refundRef string) (*models.RevenueAdjustment, error)
}

type pointsService interface {
	AddPointsTx(ctx context.Context, tx *gorm.DB, input points.AddPointsInput) (*models.PointsLedger, error)
}

// Service orchestrates the refund saga: move money at the gateway first, then
// commit every local bookkeeping step in one transaction. If the money moved
// but the books did not balance, a durable reconciliation task replays the
// missing steps.
type Service interface {
	ProcessRefund(ctx context.Context, input ProcessRefundInput) (*RefundResult, error)
	ReplayTask(ctx context.Context, taskID uuid.UUID) (*models.ReconciliationTask, error)
	ProcessDueTasks(ctx context.Context, asOf time.Time, limit int) (*ReplayReport, error)
	PendingTaskCount(ctx context.Context) (int64, error)
}

type service struct {
	repo        Repository
	tx          txRunner
	outbox      outboxPublisher
	gateway     gateway.Gateway
	payments    paymentService
	adjustments adjustmentService
	points      pointsService
	tickets     TicketResolver
	cfg         config.SettlementConfig
	logg        *logger.Logger
}

// ProcessRefundInput captures a support-initiated refund request.
type ProcessRefundInput struct {
	PaymentID       uuid.UUID
	AmountCents     int64
	Reason          string
	CustomerID      uuid.UUID
	SupportTicketID *uuid.UUID
	ProcessedBy     uuid.UUID
	ActorRole       string
}

// RefundResult reports a fully committed refund.
type RefundResult struct {
	Payment         *models.Payment
	Adjustment      *models.RevenueAdjustment
	PointsCredited  int64
	RefundRef       string
	GatewayRefundID string
}

// ReplayReport aggregates one reconciliation sweep.
type ReplayReport struct {
	Completed int
	Failed    int
	Abandoned int
}

// NewService builds the refund orchestrator with the required dependencies.
func NewService(
	repo Repository,
	tx txRunner,
	ob outboxPublisher,
	gw gateway.Gateway,
	paymentSvc paymentService,
	adjustmentSvc adjustmentService,
	pointsSvc pointsService,
	tickets TicketResolver,
	cfg config.SettlementConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reconciliation repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if paymentSvc == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if adjustmentSvc == nil {
		return nil, fmt.Errorf("adjustment service required")
	}
	if pointsSvc == nil {
		return nil, fmt.Errorf("points service required")
	}
	if tickets == nil {
		tickets = NewTicketResolver()
	}
	return &service{
		repo:        repo,
		tx:          tx,
		outbox:      ob,
		gateway:     gw,
		payments:    paymentSvc,
		adjustments: adjustmentSvc,
		points:      pointsSvc,
		tickets:     tickets,
		cfg:         cfg,
		logg:        logg,
	}, nil
}

func (s *service) ProcessRefund(ctx context.Context, input ProcessRefundInput) (*RefundResult, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}

	payment, err := s.payments.Get(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot refund payment in status %s", payment.Status))
	}
	refundable := payment.AmountCents - payment.RefundedCents
	if input.AmountCents > refundable {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("refund %d exceeds refundable %d", input.AmountCents, refundable))
	}

	refundRef := NewRefundRef()

	// Money moves first. A gateway failure leaves every ledger untouched and
	// is safe to retry.
	gatewayResult, err := s.gateway.Refund(ctx, gateway.RefundParams{
		TransactionID:  gatewayTransactionID(payment),
		AmountCents:    input.AmountCents,
		Currency:       string(payment.Currency),
		Reason:         input.Reason,
		IdempotencyKey: refundRef,
	})
	if err != nil {
		return nil, err
	}

	result := &RefundResult{RefundRef: refundRef, GatewayRefundID: gatewayResult.RefundID}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.settleRefundTx(ctx, tx, payment, input, refundRef, result)
	})
	if err == nil {
		return result, nil
	}

	// The gateway leg succeeded but the books did not commit. Queue a durable
	// task so the cron worker finishes the bookkeeping.
	task, queueErr := s.queueReconciliation(ctx, payment, input, refundRef, err)
	if queueErr != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "refund bookkeeping and reconciliation queue both failed", queueErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err,
			fmt.Sprintf("refund %s processed at gateway but bookkeeping failed and could not be queued", refundRef))
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeReconciliation, err,
		fmt.Sprintf("refund %s processed at gateway, bookkeeping queued as task %s", refundRef, task.ID)).
		WithDetails(map[string]any{"taskId": task.ID, "refundRef": refundRef})
}

func (s *service) settleRefundTx(ctx context.Context, tx *gorm.DB, payment *models.Payment, input ProcessRefundInput, refundRef string, result *RefundResult) error {
	refunded, err := s.payments.MarkRefundedTx(ctx, tx, payments.RefundInput{
		PaymentID:   payment.ID,
		AmountCents: input.AmountCents,
		Reason:      input.Reason,
		RefundRef:   refundRef,
		ProcessedBy: input.ProcessedBy,
		ActorRole:   input.ActorRole,
	})
	if err != nil {
		return err
	}
	result.Payment = refunded

	adjustment, err := s.adjustments.CreateRefundAdjustmentTx(ctx, tx, adjustments.CreateRefundAdjustmentInput{
		Type:              enums.AdjustmentTypeRefund,
		PaymentID:         payment.ID,
		OrderID:           payment.OrderID,
		VendorID:          payment.VendorID,
		CustomerID:        input.CustomerID,
		SupportTicketID:   input.SupportTicketID,
		RefundRef:         refundRef,
		RefundAmountCents: input.AmountCents,
		CommissionBps:     payment.CommissionBps,
		ProcessedBy:       input.ProcessedBy,
		ActorRole:         input.ActorRole,
	})
	if err != nil {
		return err
	}
	result.Adjustment = adjustment
	result.PointsCredited = adjustment.PointsCredited

	if adjustment.PointsCredited > 0 {
		paymentID := payment.ID
		orderID := payment.OrderID
		if _, err := s.points.AddPointsTx(ctx, tx, points.AddPointsInput{
			CustomerID:  input.CustomerID,
			Type:        enums.PointsTransactionRefundCredit,
			Points:      adjustment.PointsCredited,
			Description: fmt.Sprintf("refund credit for %s", refundRef),
			OrderID:     &orderID,
			PaymentID:   &paymentID,
			RefundRef:   refundRef,
			ActorUserID: input.ProcessedBy,
			ActorRole:   input.ActorRole,
		}); err != nil {
			return err
		}
	}

	if input.SupportTicketID != nil {
		note := fmt.Sprintf("refund %s issued", refundRef)
		if err := s.tickets.Resolve(ctx, tx, *input.SupportTicketID, note); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve support ticket")
		}
	}
	return nil
}

func (s *service) queueReconciliation(ctx context.Context, payment *models.Payment, input ProcessRefundInput, refundRef string, cause error) (*models.ReconciliationTask, error) {
	task := &models.ReconciliationTask{
		PaymentID:         payment.ID,
		OrderID:           payment.OrderID,
		VendorID:          payment.VendorID,
		CustomerID:        input.CustomerID,
		SupportTicketID:   input.SupportTicketID,
		ProcessedBy:       input.ProcessedBy,
		RefundRef:         refundRef,
		RefundAmountCents: input.AmountCents,
		Reason:            input.Reason,
		CommissionBps:     payment.CommissionBps,
		Status:            enums.ReconciliationStatusPending,
		NextAttemptAt:     time.Now().UTC(),
	}
	causeMessage := cause.Error()
	task.LastError = &causeMessage

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateTask(ctx, task); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReconciliationQueued,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: input.ProcessedBy, Role: input.ActorRole},
			Data: payloads.ReconciliationQueuedEvent{
				TaskID:    task.ID,
				PaymentID: payment.ID,
				OrderID:   payment.OrderID,
				RefundRef: refundRef,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ReplayTask re-runs the missing bookkeeping steps of one task. Every step is
// idempotent on the refund reference, so a crash mid-replay is safe.
func (s *service) ReplayTask(ctx context.Context, taskID uuid.UUID) (*models.ReconciliationTask, error) {
	task, err := s.repo.FindTaskByID(ctx, taskID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reconciliation task not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reconciliation task")
	}
	if task.Status != enums.ReconciliationStatusPending {
		return task, nil
	}

	replayErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.replayStepsTx(ctx, tx, task)
	})

	now := time.Now().UTC()
	if replayErr == nil {
		updates := map[string]any{
			"payment_done":    true,
			"adjustment_done": true,
			"points_done":     true,
			"ticket_done":     true,
			"status":          enums.ReconciliationStatusCompleted,
			"completed_at":    now,
			"last_error":      nil,
		}
		if err := s.repo.UpdateTask(ctx, task.ID, updates); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark task completed")
		}
		task.Status = enums.ReconciliationStatusCompleted
		task.CompletedAt = &now
		return task, nil
	}

	attempts := task.AttemptCount + 1
	message := replayErr.Error()
	updates := map[string]any{
		"attempt_count":   attempts,
		"last_error":      message,
		"next_attempt_at": now.Add(replayBackoff(attempts)),
	}
	maxAttempts := s.cfg.ReconciliationMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	if attempts >= maxAttempts {
		updates["status"] = enums.ReconciliationStatusAbandoned
		task.Status = enums.ReconciliationStatusAbandoned
		if s.logg != nil {
			s.logg.Error(ctx, "reconciliation task abandoned after max attempts", replayErr)
		}
	}
	if err := s.repo.UpdateTask(ctx, task.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record task attempt")
	}
	task.AttemptCount = attempts
	task.LastError = &message
	return task, replayErr
}

func (s *service) replayStepsTx(ctx context.Context, tx *gorm.DB, task *models.ReconciliationTask) error {
	if _, err := s.payments.MarkRefundedTx(ctx, tx, payments.RefundInput{
		PaymentID:   task.PaymentID,
		AmountCents: task.RefundAmountCents,
		Reason:      task.Reason,
		RefundRef:   task.RefundRef,
		ProcessedBy: task.ProcessedBy,
	}); err != nil {
		return err
	}

	adjustment, err := s.adjustments.CreateRefundAdjustmentTx(ctx, tx, adjustments.CreateRefundAdjustmentInput{
		Type:              enums.AdjustmentTypeRefund,
		PaymentID:         task.PaymentID,
		OrderID:           task.OrderID,
		VendorID:          task.VendorID,
		CustomerID:        task.CustomerID,
		SupportTicketID:   task.SupportTicketID,
		RefundRef:         task.RefundRef,
		RefundAmountCents: task.RefundAmountCents,
		CommissionBps:     task.CommissionBps,
		ProcessedBy:       task.ProcessedBy,
	})
	if err != nil {
		return err
	}

	if adjustment.PointsCredited > 0 {
		paymentID := task.PaymentID
		orderID := task.OrderID
		if _, err := s.points.AddPointsTx(ctx, tx, points.AddPointsInput{
			CustomerID:  task.CustomerID,
			Type:        enums.PointsTransactionRefundCredit,
			Points:      adjustment.PointsCredited,
			Description: fmt.Sprintf("refund credit for %s", task.RefundRef),
			OrderID:     &orderID,
			PaymentID:   &paymentID,
			RefundRef:   task.RefundRef,
			ActorUserID: task.ProcessedBy,
		}); err != nil {
			return err
		}
	}

	if task.SupportTicketID != nil {
		note := fmt.Sprintf("refund %s issued", task.RefundRef)
		if err := s.tickets.Resolve(ctx, tx, *task.SupportTicketID, note); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve support ticket")
		}
	}
	return nil
}

// ProcessDueTasks replays every pending task whose backoff window elapsed.
func (s *service) ProcessDueTasks(ctx context.Context, asOf time.Time, limit int) (*ReplayReport, error) {
	tasks, err := s.repo.ListDueTasks(ctx, asOf, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due tasks")
	}

	report := &ReplayReport{}
	for _, task := range tasks {
		replayed, replayErr := s.ReplayTask(ctx, task.ID)
		switch {
		case replayErr == nil:
			report.Completed++
		case replayed != nil && replayed.Status == enums.ReconciliationStatusAbandoned:
			report.Abandoned++
		default:
			report.Failed++
		}
	}
	return report, nil
}

func (s *service) PendingTaskCount(ctx context.Context) (int64, error) {
	return s.repo.CountPending(ctx)
}

// NewRefundRef builds the unique reference shared by the gateway idempotency
// key and every local bookkeeping row of one refund.
func NewRefundRef() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("RF-%s-%s", time.Now().UTC().Format("20060102150405"), suffix)
}

// replayBackoff doubles per attempt, capped at an hour.
func replayBackoff(attempts int) time.Duration {
	backoff := time.Minute
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= time.Hour {
			return time.Hour
		}
	}
	return backoff
}

func gatewayTransactionID(payment *models.Payment) string {
	if payment.GatewayPaymentID != nil && *payment.GatewayPaymentID != "" {
		return *payment.GatewayPaymentID
	}
	return payment.TransactionRef
}
