package adjustments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// SummaryRow aggregates adjustments of one type over a window.
type SummaryRow struct {
	Type               enums.AdjustmentType `json:"type"`
	Count              int64                `json:"count"`
	RefundAmountCents  int64                `json:"refundAmountCents"`
	VendorDeltaCents   int64                `json:"vendorDeltaCents"`
	PlatformDeltaCents int64                `json:"platformDeltaCents"`
	PointsCredited     int64                `json:"pointsCredited"`
}

// Repository manages persistence for revenue adjustments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, adjustment *models.RevenueAdjustment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.RevenueAdjustment, error)
	FindByRefundRef(ctx context.Context, refundRef string) (*models.RevenueAdjustment, error)
	FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.RevenueAdjustment, error)
	Summarize(ctx context.Context, from, to time.Time) ([]SummaryRow, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an adjustment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, adjustment *models.RevenueAdjustment) error {
	return r.db.WithContext(ctx).Create(adjustment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.RevenueAdjustment, error) {
	var adjustment models.RevenueAdjustment
	if err := r.db.WithContext(ctx).First(&adjustment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func (r *repository) FindByRefundRef(ctx context.Context, refundRef string) (*models.RevenueAdjustment, error) {
	var adjustment models.RevenueAdjustment
	if err := r.db.WithContext(ctx).
		First(&adjustment, "refund_ref = ?", refundRef).Error; err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func (r *repository) FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.RevenueAdjustment, error) {
	var adjustments []models.RevenueAdjustment
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&adjustments).Error; err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (r *repository) Summarize(ctx context.Context, from, to time.Time) ([]SummaryRow, error) {
	var rows []SummaryRow
	if err := r.db.WithContext(ctx).
		Model(&models.RevenueAdjustment{}).
		Select(`type,
			COUNT(*) AS count,
			COALESCE(SUM(refund_amount_cents), 0) AS refund_amount_cents,
			COALESCE(SUM(vendor_delta_cents), 0) AS vendor_delta_cents,
			COALESCE(SUM(platform_delta_cents), 0) AS platform_delta_cents,
			COALESCE(SUM(points_credited), 0) AS points_credited`).
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
