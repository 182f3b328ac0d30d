package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/internal/payments"
	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
	"github.com/medimarthq/settlement-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// settlementCompleter realizes the vendor payment when its slice of the order
// is delivered, inside the same transaction as the status write.
type settlementCompleter interface {
	CompleteTx(ctx context.Context, tx *gorm.DB, input payments.CompleteInput) (*models.Payment, error)
}

// Service defines the order settlement state machine operations.
type Service interface {
	SetVendorStatus(ctx context.Context, input SetVendorStatusInput) (*StatusResult, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	completer settlementCompleter
	inventory InventoryReleaser
}

// SetVendorStatusInput moves one vendor's slice of an order through the
// settlement progression.
type SetVendorStatusInput struct {
	OrderID     uuid.UUID
	VendorID    uuid.UUID
	Status      enums.OrderStatus
	Note        string
	ActorUserID uuid.UUID
	ActorRole   string
}

// StatusResult reports the vendor sub-status write and the recomputed
// order-level aggregate.
type StatusResult struct {
	VendorStatus    *models.OrderVendorStatus
	AggregateStatus enums.OrderStatus
	Payment         *models.Payment
}

// NewService builds an order settlement service with the required dependencies.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, completer settlementCompleter, inventory InventoryReleaser) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if completer == nil {
		return nil, fmt.Errorf("settlement completer required")
	}
	if inventory == nil {
		inventory = NewInventoryReleaser()
	}
	return &service{repo: repo, tx: tx, outbox: ob, completer: completer, inventory: inventory}, nil
}

// SetVendorStatus advances one vendor's sub-status. Delivery realizes that
// vendor's payment atomically; cancellation releases that vendor's reserved
// stock. The order-level status is recomputed from all sub-statuses on every
// write.
func (s *service) SetVendorStatus(ctx context.Context, input SetVendorStatusInput) (*StatusResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", input.Status))
	}

	var result *StatusResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.setVendorStatusTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) setVendorStatusTx(ctx context.Context, tx *gorm.DB, input SetVendorStatusInput) (*StatusResult, error) {
	repo := s.repo.WithTx(tx)

	order, err := repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !vendorOnOrder(order, input.VendorID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor has no items on order")
	}

	vendorStatus, err := s.findOrCreateVendorStatus(ctx, repo, input.OrderID, input.VendorID)
	if err != nil {
		return nil, err
	}

	from := vendorStatus.Status
	if err := validateTransition(from, input.Status); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]any{"status": input.Status}
	switch input.Status {
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
	}
	if err := repo.UpdateVendorStatus(ctx, vendorStatus.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update vendor status")
	}
	vendorStatus.Status = input.Status
	switch input.Status {
	case enums.OrderStatusDelivered:
		vendorStatus.DeliveredAt = &now
	case enums.OrderStatusCancelled:
		vendorStatus.CancelledAt = &now
	}

	vendorID := input.VendorID
	if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:     input.OrderID,
		VendorID:    &vendorID,
		FromStatus:  from,
		ToStatus:    input.Status,
		ActorUserID: input.ActorUserID,
		Note:        noteOrNil(input.Note),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status history")
	}

	result := &StatusResult{VendorStatus: vendorStatus}

	switch input.Status {
	case enums.OrderStatusDelivered:
		payment, deliverErr := s.onDelivered(ctx, tx, order, input)
		if deliverErr != nil {
			return nil, deliverErr
		}
		result.Payment = payment
	case enums.OrderStatusCancelled:
		if cancelErr := s.onCancelled(ctx, tx, order, input, now); cancelErr != nil {
			return nil, cancelErr
		}
	}

	aggregate, err := s.recomputeAggregate(ctx, repo, order, input.ActorUserID)
	if err != nil {
		return nil, err
	}
	result.AggregateStatus = aggregate

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: input.ActorRole},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:         order.ID,
			VendorID:        input.VendorID,
			FromStatus:      from,
			ToStatus:        input.Status,
			AggregateStatus: aggregate,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status changed")
	}
	return result, nil
}

func (s *service) findOrCreateVendorStatus(ctx context.Context, repo Repository, orderID, vendorID uuid.UUID) (*models.OrderVendorStatus, error) {
	vendorStatus, err := repo.FindVendorStatus(ctx, orderID, vendorID)
	if err == nil {
		return vendorStatus, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor status")
	}

	vendorStatus = &models.OrderVendorStatus{
		OrderID:  orderID,
		VendorID: vendorID,
		Status:   enums.OrderStatusPending,
	}
	if createErr := repo.CreateVendorStatus(ctx, vendorStatus); createErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, createErr, "create vendor status")
	}
	return vendorStatus, nil
}

func (s *service) onDelivered(ctx context.Context, tx *gorm.DB, order *models.Order, input SetVendorStatusInput) (*models.Payment, error) {
	payment, err := s.completer.CompleteTx(ctx, tx, payments.CompleteInput{
		OrderID:     order.ID,
		VendorID:    input.VendorID,
		ActorUserID: input.ActorUserID,
		ActorRole:   input.ActorRole,
	})
	if err != nil {
		return nil, err
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderDelivered,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: input.ActorRole},
		Data: payloads.OrderDeliveredEvent{
			OrderID:     order.ID,
			VendorID:    input.VendorID,
			PaymentID:   payment.ID,
			DeliveredAt: time.Now().UTC(),
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order delivered")
	}
	return payment, nil
}

func (s *service) onCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, input SetVendorStatusInput, at time.Time) error {
	for _, item := range order.Items {
		if item.VendorID != input.VendorID {
			continue
		}
		if err := s.inventory.Release(ctx, tx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release inventory")
		}
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{UserID: input.ActorUserID, Role: input.ActorRole},
		Data: payloads.OrderCancelledEvent{
			OrderID:     order.ID,
			VendorID:    input.VendorID,
			CancelledAt: at,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order cancelled")
	}
	return nil
}

func (s *service) recomputeAggregate(ctx context.Context, repo Repository, order *models.Order, actorUserID uuid.UUID) (enums.OrderStatus, error) {
	statuses, err := repo.ListVendorStatuses(ctx, order.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendor statuses")
	}

	aggregate := DeriveOrderStatus(order, statuses)
	if aggregate == order.Status {
		return aggregate, nil
	}

	if err := repo.UpdateOrderStatus(ctx, order.ID, aggregate); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:     order.ID,
		FromStatus:  order.Status,
		ToStatus:    aggregate,
		ActorUserID: actorUserID,
	}); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append aggregate history")
	}
	order.Status = aggregate
	return aggregate, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	entries, err := s.repo.ListHistory(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list status history")
	}
	return entries, nil
}

// validateTransition enforces the per-vendor progression: forward moves only,
// and cancellation is allowed solely from pending.
func validateTransition(from, to enums.OrderStatus) error {
	if from == to {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("already %s", to))
	}
	if from == enums.OrderStatusCancelled || from == enums.OrderStatusDelivered {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot leave terminal status %s", from))
	}
	if to == enums.OrderStatusCancelled {
		if from != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot cancel from %s", from))
		}
		return nil
	}
	if to.Rank() <= from.Rank() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move from %s to %s", from, to))
	}
	return nil
}

// DeriveOrderStatus computes the order-level status from the per-vendor rows.
// Vendors without a row yet count as pending. An order is cancelled only when
// every vendor cancelled; otherwise it sits at the least-advanced non-cancelled
// vendor.
func DeriveOrderStatus(order *models.Order, statuses []models.OrderVendorStatus) enums.OrderStatus {
	byVendor := make(map[uuid.UUID]enums.OrderStatus, len(statuses))
	for _, status := range statuses {
		byVendor[status.VendorID] = status.Status
	}

	seen := map[uuid.UUID]bool{}
	var all []enums.OrderStatus
	for _, item := range order.Items {
		if seen[item.VendorID] {
			continue
		}
		seen[item.VendorID] = true
		if status, ok := byVendor[item.VendorID]; ok {
			all = append(all, status)
		} else {
			all = append(all, enums.OrderStatusPending)
		}
	}
	if len(all) == 0 {
		return order.Status
	}

	minimum := enums.OrderStatus("")
	for _, status := range all {
		if status == enums.OrderStatusCancelled {
			continue
		}
		if minimum == "" || status.Rank() < minimum.Rank() {
			minimum = status
		}
	}
	if minimum == "" {
		return enums.OrderStatusCancelled
	}
	return minimum
}

func vendorOnOrder(order *models.Order, vendorID uuid.UUID) bool {
	for _, item := range order.Items {
		if item.VendorID == vendorID {
			return true
		}
	}
	return false
}

func noteOrNil(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}
