package adjustments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/config"
	dbpkg "github.com/medimarthq/settlement-backend/pkg/db"
	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
	"github.com/medimarthq/settlement-backend/pkg/outbox/payloads"
	"github.com/medimarthq/settlement-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the revenue adjustment engine operations.
type Service interface {
	CreateRefundAdjustment(ctx context.Context, input CreateRefundAdjustmentInput) (*models.RevenueAdjustment, error)
	CreateRefundAdjustmentTx(ctx context.Context, tx *gorm.DB, input CreateRefundAdjustmentInput) (*models.RevenueAdjustment, error)
	FindByRefundRef(ctx context.Context, refundRef string) (*models.RevenueAdjustment, error)
	RevenueSummary(ctx context.Context, dateRange types.DateRange) (*RevenueSummary, error)
}

// CreateRefundAdjustmentInput carries everything needed to record one signed
// revenue correction. CommissionBps is the platform cut as applied at refund
// time; the refund orchestrator passes the Payment's stored value.
type CreateRefundAdjustmentInput struct {
	Type              enums.AdjustmentType
	PaymentID         uuid.UUID
	OrderID           uuid.UUID
	VendorID          uuid.UUID
	CustomerID        uuid.UUID
	SupportTicketID   *uuid.UUID
	RefundRef         string
	RefundAmountCents int64
	CommissionBps     int
	ProcessedBy       uuid.UUID
	ActorRole         string
}

// RevenueSummary is the aggregate view over a date range.
type RevenueSummary struct {
	From                    time.Time    `json:"from"`
	To                      time.Time    `json:"to"`
	Rows                    []SummaryRow `json:"rows"`
	TotalCount              int64        `json:"totalCount"`
	TotalRefundAmountCents  int64        `json:"totalRefundAmountCents"`
	TotalVendorDeltaCents   int64        `json:"totalVendorDeltaCents"`
	TotalPlatformDeltaCents int64        `json:"totalPlatformDeltaCents"`
	TotalPointsCredited     int64        `json:"totalPointsCredited"`
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	cfg    config.SettlementConfig
}

// NewService builds a revenue adjustment service with the required dependencies.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, cfg config.SettlementConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("adjustments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: ob, cfg: cfg}, nil
}

func (s *service) CreateRefundAdjustment(ctx context.Context, input CreateRefundAdjustmentInput) (*models.RevenueAdjustment, error) {
	var adjustment *models.RevenueAdjustment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		adjustment, txErr = s.CreateRefundAdjustmentTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return adjustment, nil
}

// CreateRefundAdjustmentTx records the correction inside the caller's
// transaction. Replays with the same refund reference return the existing
// adjustment untouched.
func (s *service) CreateRefundAdjustmentTx(ctx context.Context, tx *gorm.DB, input CreateRefundAdjustmentInput) (*models.RevenueAdjustment, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)

	payment, err := repo.FindPayment(ctx, input.PaymentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	originalVendor, originalPlatform := shareOf(payment.AmountCents, input.CommissionBps)
	vendorDelta, platformDelta := refundDeltas(input.RefundAmountCents, input.CommissionBps)
	pointsCredited := RefundPointsCredit(input.RefundAmountCents, s.refundPointsPerUnit())

	now := time.Now().UTC()
	adjustment := &models.RevenueAdjustment{
		Type:                  input.Type,
		PaymentID:             payment.ID,
		OrderID:               input.OrderID,
		VendorID:              input.VendorID,
		CustomerID:            input.CustomerID,
		SupportTicketID:       input.SupportTicketID,
		RefundRef:             input.RefundRef,
		RefundAmountCents:     input.RefundAmountCents,
		CommissionBps:         input.CommissionBps,
		OriginalVendorCents:   originalVendor,
		OriginalPlatformCents: originalPlatform,
		VendorDeltaCents:      vendorDelta,
		PlatformDeltaCents:    platformDelta,
		AdjustedVendorCents:   originalVendor + vendorDelta,
		AdjustedPlatformCents: originalPlatform + platformDelta,
		PointsCredited:        pointsCredited,
		Status:                enums.AdjustmentStatusProcessed,
		ProcessedBy:           input.ProcessedBy,
		ProcessedAt:           &now,
	}

	if err := repo.Create(ctx, adjustment); err != nil {
		if dbpkg.IsUniqueViolation(err, "") || err == gorm.ErrDuplicatedKey {
			existing, findErr := repo.FindByRefundRef(ctx, input.RefundRef)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load existing adjustment")
			}
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create adjustment")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventAdjustmentCreated,
		AggregateType: enums.AggregateAdjustment,
		AggregateID:   adjustment.ID,
		Version:       1,
		Actor:         &outbox.ActorRef{UserID: input.ProcessedBy, Role: input.ActorRole},
		Data: payloads.AdjustmentCreatedEvent{
			AdjustmentID:       adjustment.ID,
			Type:               adjustment.Type,
			PaymentID:          adjustment.PaymentID,
			OrderID:            adjustment.OrderID,
			VendorID:           adjustment.VendorID,
			RefundAmountCents:  adjustment.RefundAmountCents,
			VendorDeltaCents:   adjustment.VendorDeltaCents,
			PlatformDeltaCents: adjustment.PlatformDeltaCents,
			PointsCredited:     adjustment.PointsCredited,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit adjustment created")
	}
	return adjustment, nil
}

func (s *service) FindByRefundRef(ctx context.Context, refundRef string) (*models.RevenueAdjustment, error) {
	if refundRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reference required")
	}
	adjustment, err := s.repo.FindByRefundRef(ctx, refundRef)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "adjustment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load adjustment")
	}
	return adjustment, nil
}

func (s *service) RevenueSummary(ctx context.Context, dateRange types.DateRange) (*RevenueSummary, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid date range")
	}

	rows, err := s.repo.Summarize(ctx, dateRange.From, dateRange.To)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "summarize adjustments")
	}

	summary := &RevenueSummary{
		From: dateRange.From,
		To:   dateRange.To,
		Rows: rows,
	}
	for _, row := range rows {
		summary.TotalCount += row.Count
		summary.TotalRefundAmountCents += row.RefundAmountCents
		summary.TotalVendorDeltaCents += row.VendorDeltaCents
		summary.TotalPlatformDeltaCents += row.PlatformDeltaCents
		summary.TotalPointsCredited += row.PointsCredited
	}
	return summary, nil
}

func (s *service) refundPointsPerUnit() int {
	if s.cfg.RefundPointsPerUnit > 0 {
		return s.cfg.RefundPointsPerUnit
	}
	return 10
}

func validateCreateInput(input CreateRefundAdjustmentInput) error {
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid adjustment type %q", input.Type))
	}
	if input.PaymentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.VendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if input.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.RefundRef == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund reference required")
	}
	if input.RefundAmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if input.CommissionBps < 0 || input.CommissionBps >= 10000 {
		return pkgerrors.New(pkgerrors.CodeValidation, "commission bps out of range")
	}
	if input.ProcessedBy == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "processed by required")
	}
	return nil
}

// shareOf splits amountCents into vendor and platform shares for the given
// commission; the two parts always sum to amountCents.
func shareOf(amountCents int64, commissionBps int) (vendorCents, platformCents int64) {
	share := decimal.NewFromInt(10000 - int64(commissionBps))
	vendor := decimal.NewFromInt(amountCents).
		Mul(share).
		DivRound(decimal.NewFromInt(10000), 0)
	vendorCents = vendor.IntPart()
	platformCents = amountCents - vendorCents
	return vendorCents, platformCents
}

// refundDeltas returns the signed corrections for a refund: the vendor gives
// back its share of the refunded amount, the platform the remainder.
func refundDeltas(refundCents int64, commissionBps int) (vendorDelta, platformDelta int64) {
	vendorShare, platformShare := shareOf(refundCents, commissionBps)
	return -vendorShare, -platformShare
}

// RefundPointsCredit computes the promotional points granted on a refund:
// pointsPerUnit points per whole currency unit refunded, floored. This fixed
// rate is intentionally independent of the customer ledger's own conversion
// rate.
func RefundPointsCredit(refundCents int64, pointsPerUnit int) int64 {
	units := decimal.NewFromInt(refundCents).Div(decimal.NewFromInt(100))
	return units.Mul(decimal.NewFromInt(int64(pointsPerUnit))).Floor().IntPart()
}
