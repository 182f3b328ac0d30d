package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	"github.com/medimarthq/settlement-backend/pkg/pagination"
)

// Repository manages the per-customer points ledgers and their append-only
// transaction logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, ledger *models.PointsLedger) error
	FindByCustomerID(ctx context.Context, customerID uuid.UUID) (*models.PointsLedger, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PointsLedger, error)
	// UpdateBalances applies the balance columns only when the row still
	// carries fromVersion. Zero rows affected means a concurrent writer won.
	UpdateBalances(ctx context.Context, id uuid.UUID, fromVersion int64, updates map[string]any) (int64, error)
	AppendTransaction(ctx context.Context, transaction *models.PointsTransaction) error
	NextSequence(ctx context.Context, ledgerID uuid.UUID) (int64, error)
	ListTransactions(ctx context.Context, ledgerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PointsTransaction, error)
	ListActiveExpirable(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]models.PointsTransaction, error)
	DeactivateTransactions(ctx context.Context, ids []uuid.UUID) error
	FindTransactionByRefundRef(ctx context.Context, ledgerID uuid.UUID, refundRef string) (*models.PointsTransaction, error)
	ListCustomersWithExpirable(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a points repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, ledger *models.PointsLedger) error {
	return r.db.WithContext(ctx).Create(ledger).Error
}

func (r *repository) FindByCustomerID(ctx context.Context, customerID uuid.UUID) (*models.PointsLedger, error) {
	var ledger models.PointsLedger
	if err := r.db.WithContext(ctx).
		First(&ledger, "customer_id = ?", customerID).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PointsLedger, error) {
	var ledger models.PointsLedger
	if err := r.db.WithContext(ctx).First(&ledger, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (r *repository) UpdateBalances(ctx context.Context, id uuid.UUID, fromVersion int64, updates map[string]any) (int64, error) {
	updates["version"] = fromVersion + 1
	result := r.db.WithContext(ctx).
		Model(&models.PointsLedger{}).
		Where("id = ? AND version = ?", id, fromVersion).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repository) AppendTransaction(ctx context.Context, transaction *models.PointsTransaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) NextSequence(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	var max int64
	err := r.db.WithContext(ctx).
		Model(&models.PointsTransaction{}).
		Where("ledger_id = ?", ledgerID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *repository) ListTransactions(ctx context.Context, ledgerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PointsTransaction, error) {
	query := r.db.WithContext(ctx).
		Where("ledger_id = ?", ledgerID)
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var transactions []models.PointsTransaction
	if err := query.
		Order("created_at DESC, id DESC").
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repository) ListActiveExpirable(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]models.PointsTransaction, error) {
	var transactions []models.PointsTransaction
	if err := r.db.WithContext(ctx).
		Where("ledger_id = ? AND type = ? AND active = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			ledgerID, enums.PointsTransactionEarned, true, asOf).
		Order("sequence ASC").
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repository) DeactivateTransactions(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.PointsTransaction{}).
		Where("id IN ?", ids).
		Update("active", false).Error
}

func (r *repository) FindTransactionByRefundRef(ctx context.Context, ledgerID uuid.UUID, refundRef string) (*models.PointsTransaction, error) {
	var transaction models.PointsTransaction
	if err := r.db.WithContext(ctx).
		First(&transaction, "ledger_id = ? AND refund_ref = ?", ledgerID, refundRef).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) ListCustomersWithExpirable(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PointsTransaction{}).
		Select("DISTINCT points_ledgers.customer_id").
		Joins("JOIN points_ledgers ON points_ledgers.id = points_transactions.ledger_id").
		Where("points_transactions.type = ? AND points_transactions.active = ? AND points_transactions.expires_at IS NOT NULL AND points_transactions.expires_at <= ?",
			enums.PointsTransactionEarned, true, asOf)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var customerIDs []uuid.UUID
	if err := query.Scan(&customerIDs).Error; err != nil {
		return nil, err
	}
	return customerIDs, nil
}
