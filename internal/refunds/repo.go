package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
)

// Repository manages durable reconciliation tasks for refunds whose gateway
// leg succeeded but whose local bookkeeping did not commit.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTask(ctx context.Context, task *models.ReconciliationTask) error
	FindTaskByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationTask, error)
	FindTaskByRefundRef(ctx context.Context, refundRef string) (*models.ReconciliationTask, error)
	ListDueTasks(ctx context.Context, asOf time.Time, limit int) ([]models.ReconciliationTask, error)
	UpdateTask(ctx context.Context, id uuid.UUID, updates map[string]any) error
	CountPending(ctx context.Context) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a reconciliation task repository bound to the
// provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateTask(ctx context.Context, task *models.ReconciliationTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *repository) FindTaskByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationTask, error) {
	var task models.ReconciliationTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) FindTaskByRefundRef(ctx context.Context, refundRef string) (*models.ReconciliationTask, error) {
	var task models.ReconciliationTask
	if err := r.db.WithContext(ctx).
		First(&task, "refund_ref = ?", refundRef).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) ListDueTasks(ctx context.Context, asOf time.Time, limit int) ([]models.ReconciliationTask, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", enums.ReconciliationStatusPending, asOf).
		Order("next_attempt_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var tasks []models.ReconciliationTask
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *repository) UpdateTask(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.ReconciliationTask{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReconciliationTask{}).
		Where("status = ?", enums.ReconciliationStatusPending).
		Count(&count).Error
	return count, err
}
