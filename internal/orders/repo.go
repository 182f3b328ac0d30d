package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// Repository manages the settlement view of orders: per-vendor sub-status
// rows, the derived order-level status, and the append-only history trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindVendorStatus(ctx context.Context, orderID, vendorID uuid.UUID) (*models.OrderVendorStatus, error)
	CreateVendorStatus(ctx context.Context, status *models.OrderVendorStatus) error
	UpdateVendorStatus(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ListVendorStatuses(ctx context.Context, orderID uuid.UUID) ([]models.OrderVendorStatus, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error
	AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("VendorStatuses").
		First(&order, "id = ?", orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindVendorStatus(ctx context.Context, orderID, vendorID uuid.UUID) (*models.OrderVendorStatus, error) {
	var status models.OrderVendorStatus
	if err := r.db.WithContext(ctx).
		First(&status, "order_id = ? AND vendor_id = ?", orderID, vendorID).Error; err != nil {
		return nil, err
	}
	return &status, nil
}

func (r *repository) CreateVendorStatus(ctx context.Context, status *models.OrderVendorStatus) error {
	return r.db.WithContext(ctx).Create(status).Error
}

func (r *repository) UpdateVendorStatus(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderVendorStatus{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListVendorStatuses(ctx context.Context, orderID uuid.UUID) ([]models.OrderVendorStatus, error) {
	var statuses []models.OrderVendorStatus
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}

func (r *repository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("status", status).Error
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var entries []models.OrderStatusHistory
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
