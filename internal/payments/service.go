package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/config"
	dbpkg "github.com/medimarthq/settlement-backend/pkg/db"
	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/metrics"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
	"github.com/medimarthq/settlement-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the payment ledger operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Payment, error)
	CreateForOrder(ctx context.Context, input CreateForOrderInput) ([]models.Payment, error)
	Complete(ctx context.Context, input CompleteInput) (*models.Payment, error)
	CompleteTx(ctx context.Context, tx *gorm.DB, input CompleteInput) (*models.Payment, error)
	Fail(ctx context.Context, input FailInput) (*models.Payment, error)
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.Payment, error)
	Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	Report(ctx context.Context, filter ReportFilter) ([]models.Payment, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	cfg     config.SettlementConfig
	metrics *metrics.SettlementMetrics
}

// CreateInput captures one vendor-scoped ledger entry at order creation.
type CreateInput struct {
	OrderID     uuid.UUID
	VendorID    uuid.UUID
	AmountCents int64
	Currency    enums.Currency
	Method      enums.PaymentMethod
}

// CreateForOrderInput splits an order into per-vendor ledger entries based on
// line item vendor attribution.
type CreateForOrderInput struct {
	OrderID uuid.UUID
	Method  enums.PaymentMethod
}

// CompleteInput identifies the vendor-scoped payment to realize.
type CompleteInput struct {
	OrderID     uuid.UUID
	VendorID    uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   string
}

// FailInput captures an administrative failure transition.
type FailInput struct {
	PaymentID   uuid.UUID
	Reason      string
	ActorUserID uuid.UUID
	ActorRole   string
}

// RefundInput carries the gateway-confirmed refund detail applied to a payment.
type RefundInput struct {
	PaymentID   uuid.UUID
	AmountCents int64
	Reason      string
	RefundRef   string
	ProcessedBy uuid.UUID
	ActorRole   string
}

// NewService builds a payment ledger service with the required dependencies.
// Metrics may be nil; the counters degrade to no-ops.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, cfg config.SettlementConfig, m *metrics.SettlementMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: ob, cfg: cfg, metrics: m}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	var payment *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		payment, txErr = s.createTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *service) createTx(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Payment, error) {
	repo := s.repo.WithTx(tx)

	bps, err := s.resolveCommissionBps(ctx, repo, input.VendorID)
	if err != nil {
		return nil, err
	}
	vendorCents, platformCents := SplitAmount(input.AmountCents, bps)

	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	method := input.Method
	if method == "" {
		method = enums.PaymentMethodCard
	}

	payment := &models.Payment{
		OrderID:              input.OrderID,
		VendorID:             input.VendorID,
		AmountCents:          input.AmountCents,
		Currency:             currency,
		CommissionBps:        bps,
		VendorEarningsCents:  vendorCents,
		PlatformRevenueCents: platformCents,
		Method:               method,
		Status:               enums.PaymentStatusPending,
		TransactionRef:       NewTransactionRef(),
	}
	if err := repo.Create(ctx, payment); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_payments_order_vendor") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already exists for order and vendor")
		}
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction reference collision")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	return payment, nil
}

func (s *service) CreateForOrder(ctx context.Context, input CreateForOrderInput) ([]models.Payment, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var created []models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderWithItems(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		totals := vendorTotals(order.Items)
		if len(totals) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "order has no vendor line items")
		}

		for _, vt := range totals {
			payment, err := s.createTx(ctx, tx, CreateInput{
				OrderID:     order.ID,
				VendorID:    vt.vendorID,
				AmountCents: vt.totalCents,
				Currency:    order.Currency,
				Method:      input.Method,
			})
			if err != nil {
				return err
			}
			created = append(created, *payment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Complete(ctx context.Context, input CompleteInput) (*models.Payment, error) {
	var payment *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		payment, txErr = s.CompleteTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// CompleteTx realizes the vendor's payment inside the caller's transaction.
// Calling it twice for the same (order, vendor) is a no-op on the second call.
func (s *service) CompleteTx(ctx context.Context, tx *gorm.DB, input CompleteInput) (*models.Payment, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.OrderID == uuid.Nil || input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and vendor id required")
	}

	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByOrderAndVendor(ctx, input.OrderID, input.VendorID)
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		// Missing row: reconstruct from the vendor's line items so delivery
		// confirmation still settles even if creation was skipped upstream.
		payment, err = s.reconstructTx(ctx, tx, input.OrderID, input.VendorID)
		if err != nil {
			return nil, err
		}
	}

	if payment.Status == enums.PaymentStatusCompleted {
		return payment, nil
	}
	if !payment.Status.CanTransitionTo(enums.PaymentStatusCompleted) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment cannot complete from status %s", payment.Status))
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":       enums.PaymentStatusCompleted,
		"completed_at": now,
	}
	if err := repo.Update(ctx, payment.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete payment")
	}
	payment.Status = enums.PaymentStatusCompleted
	payment.CompletedAt = &now

	if err := s.refreshOrderPaymentStatus(ctx, repo, payment.OrderID); err != nil {
		return nil, err
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Actor:         buildActor(input.ActorUserID, input.ActorRole),
		Data: payloads.PaymentCompletedEvent{
			PaymentID:            payment.ID,
			OrderID:              payment.OrderID,
			VendorID:             payment.VendorID,
			AmountCents:          payment.AmountCents,
			VendorEarningsCents:  payment.VendorEarningsCents,
			PlatformRevenueCents: payment.PlatformRevenueCents,
			TransactionRef:       payment.TransactionRef,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment completed")
	}
	s.metrics.IncPayment(string(enums.PaymentStatusCompleted))
	return payment, nil
}

func (s *service) reconstructTx(ctx context.Context, tx *gorm.DB, orderID, vendorID uuid.UUID) (*models.Payment, error) {
	repo := s.repo.WithTx(tx)
	order, err := repo.FindOrderWithItems(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	var total int64
	for _, item := range order.Items {
		if item.VendorID == vendorID {
			total += item.TotalCents
		}
	}
	if total <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment or line items for vendor on order")
	}

	return s.createTx(ctx, tx, CreateInput{
		OrderID:     orderID,
		VendorID:    vendorID,
		AmountCents: total,
		Currency:    order.Currency,
	})
}

func (s *service) Fail(ctx context.Context, input FailInput) (*models.Payment, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	var payment *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, err := repo.FindByID(ctx, input.PaymentID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if found.Status == enums.PaymentStatusFailed {
			payment = found
			return nil
		}
		if !found.Status.CanTransitionTo(enums.PaymentStatusFailed) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("payment cannot fail from status %s", found.Status))
		}

		reason := strings.TrimSpace(input.Reason)
		updates := map[string]any{"status": enums.PaymentStatusFailed}
		if reason != "" {
			updates["failure_reason"] = reason
		}
		if err := repo.Update(ctx, found.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment")
		}
		found.Status = enums.PaymentStatusFailed
		if reason != "" {
			found.FailureReason = &reason
		}
		payment = found

		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   found.ID,
			Version:       1,
			Actor:         buildActor(input.ActorUserID, input.ActorRole),
			Data: payloads.PaymentFailedEvent{
				PaymentID: found.ID,
				OrderID:   found.OrderID,
				VendorID:  found.VendorID,
				Reason:    reason,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}
		s.metrics.IncPayment(string(enums.PaymentStatusFailed))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// MarkRefundedTx flips the payment to refunded and records the refund detail,
// inside the caller's transaction. The stored split is never rewritten; the
// refund correction lives in the revenue adjustment ledger.
func (s *service) MarkRefundedTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*models.Payment, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByID(ctx, input.PaymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	if payment.Status == enums.PaymentStatusRefunded &&
		payment.RefundDetail != nil && payment.RefundDetail.RefundRef == input.RefundRef {
		return payment, nil
	}
	if !payment.Status.CanTransitionTo(enums.PaymentStatusRefunded) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment cannot refund from status %s", payment.Status))
	}
	if input.AmountCents > payment.AmountCents-payment.RefundedCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds refundable balance")
	}

	now := time.Now().UTC()
	processor := input.ProcessedBy
	updates := map[string]any{
		"status":              enums.PaymentStatusRefunded,
		"refunded_cents":      payment.RefundedCents + input.AmountCents,
		"refund_amount_cents": input.AmountCents,
		"refund_reason":       input.Reason,
		"refund_processor_id": processor,
		"refund_ref":          input.RefundRef,
		"refund_refunded_at":  now,
	}
	if err := repo.Update(ctx, payment.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refunded")
	}
	payment.Status = enums.PaymentStatusRefunded
	payment.RefundedCents += input.AmountCents
	payment.RefundDetail = &models.RefundDetail{
		AmountCents: input.AmountCents,
		Reason:      input.Reason,
		ProcessorID: &processor,
		RefundRef:   input.RefundRef,
		RefundedAt:  &now,
	}

	if err := s.refreshOrderPaymentStatus(ctx, repo, payment.OrderID); err != nil {
		return nil, err
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Version:       1,
		Actor:         buildActor(input.ProcessedBy, input.ActorRole),
		Data: payloads.PaymentRefundedEvent{
			PaymentID:         payment.ID,
			OrderID:           payment.OrderID,
			VendorID:          payment.VendorID,
			RefundRef:         input.RefundRef,
			RefundAmountCents: input.AmountCents,
			Reason:            input.Reason,
		},
	}
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment refunded")
	}
	s.metrics.IncPayment(string(enums.PaymentStatusRefunded))
	s.metrics.AddRefundedCents(input.AmountCents)
	return payment, nil
}

func (s *service) Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	payments, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return payments, nil
}

func (s *service) Report(ctx context.Context, filter ReportFilter) ([]models.Payment, error) {
	payments, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return payments, nil
}

func (s *service) resolveCommissionBps(ctx context.Context, repo Repository, vendorID uuid.UUID) (int, error) {
	commission, err := repo.FindCommission(ctx, vendorID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return s.defaultCommissionBps(), nil
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor commission")
	}
	if commission.CommissionBps <= 0 || commission.CommissionBps >= 10000 {
		return s.defaultCommissionBps(), nil
	}
	return commission.CommissionBps, nil
}

func (s *service) defaultCommissionBps() int {
	if s.cfg.DefaultCommissionBps > 0 {
		return s.cfg.DefaultCommissionBps
	}
	return 1500
}

func (s *service) refreshOrderPaymentStatus(ctx context.Context, repo Repository, orderID uuid.UUID) error {
	all, err := repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order payments")
	}
	status := DeriveOrderPaymentStatus(all)
	if err := repo.UpdateOrderPaymentStatus(ctx, orderID, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order payment status")
	}
	return nil
}

// DeriveOrderPaymentStatus aggregates vendor payment states into the
// order-level payment status.
func DeriveOrderPaymentStatus(payments []models.Payment) enums.OrderPaymentStatus {
	if len(payments) == 0 {
		return enums.OrderPaymentStatusUnpaid
	}
	completed := 0
	refunded := 0
	for _, p := range payments {
		switch p.Status {
		case enums.PaymentStatusCompleted:
			completed++
		case enums.PaymentStatusRefunded:
			refunded++
		}
	}
	switch {
	case refunded == len(payments):
		return enums.OrderPaymentStatusRefunded
	case refunded > 0:
		return enums.OrderPaymentStatusPartiallyRefunded
	case completed == len(payments):
		return enums.OrderPaymentStatusPaid
	case completed > 0:
		return enums.OrderPaymentStatusPartiallyPaid
	default:
		return enums.OrderPaymentStatusUnpaid
	}
}

// SplitAmount divides amountCents into vendor earnings and platform revenue
// using the commission in basis points (the platform's cut). The two parts
// always sum to amountCents exactly.
func SplitAmount(amountCents int64, commissionBps int) (vendorCents, platformCents int64) {
	share := decimal.NewFromInt(10000 - int64(commissionBps))
	vendor := decimal.NewFromInt(amountCents).
		Mul(share).
		DivRound(decimal.NewFromInt(10000), 0)
	vendorCents = vendor.IntPart()
	platformCents = amountCents - vendorCents
	return vendorCents, platformCents
}

// NewTransactionRef generates the external-facing payment reference:
// a UTC timestamp plus a random suffix.
func NewTransactionRef() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return fmt.Sprintf("TXN-%s-%s", time.Now().UTC().Format("20060102150405"), suffix)
}

type vendorTotal struct {
	vendorID   uuid.UUID
	totalCents int64
}

func vendorTotals(items []models.OrderLineItem) []vendorTotal {
	totals := map[uuid.UUID]int64{}
	order := []uuid.UUID{}
	for _, item := range items {
		if _, seen := totals[item.VendorID]; !seen {
			order = append(order, item.VendorID)
		}
		totals[item.VendorID] += item.TotalCents
	}
	result := make([]vendorTotal, 0, len(order))
	for _, vendorID := range order {
		result = append(result, vendorTotal{vendorID: vendorID, totalCents: totals[vendorID]})
	}
	return result
}

func buildActor(userID uuid.UUID, role string) *outbox.ActorRef {
	if userID == uuid.Nil && role == "" {
		return nil
	}
	return &outbox.ActorRef{UserID: userID, Role: role}
}
