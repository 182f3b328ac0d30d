package points

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
)

func setupPointsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ledgers := `
CREATE TABLE IF NOT EXISTS points_ledgers (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL UNIQUE,
  total_points INTEGER NOT NULL DEFAULT 0,
  available_points INTEGER NOT NULL DEFAULT 0,
  used_points INTEGER NOT NULL DEFAULT 0,
  expired_points INTEGER NOT NULL DEFAULT 0,
  conversion_rate NUMERIC NOT NULL DEFAULT 1,
  expiry_days INTEGER NOT NULL DEFAULT 365,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	transactions := `
CREATE TABLE IF NOT EXISTS points_transactions (
  id TEXT PRIMARY KEY,
  ledger_id TEXT NOT NULL,
  sequence INTEGER NOT NULL,
  type TEXT NOT NULL,
  points INTEGER NOT NULL,
  description TEXT NOT NULL,
  order_id TEXT,
  payment_id TEXT,
  refund_ref TEXT,
  expires_at DATETIME,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  UNIQUE (ledger_id, sequence)
);`

	require.NoError(t, db.Exec(ledgers).Error)
	require.NoError(t, db.Exec(transactions).Error)
	return db
}

func insertLedger(t *testing.T, db *gorm.DB, customerID uuid.UUID) *models.PointsLedger {
	t.Helper()
	ledger := &models.PointsLedger{
		ID:         uuid.New(),
		CustomerID: customerID,
		ExpiryDays: 365,
	}
	require.NoError(t, NewRepository(db).Create(context.Background(), ledger))
	return ledger
}

func TestPointsRepoFindByCustomerID(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewRepository(db)
	customerID := uuid.New()
	created := insertLedger(t, db, customerID)

	found, err := repo.FindByCustomerID(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, int64(0), found.Version)

	_, err = repo.FindByCustomerID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPointsRepoUpdateBalancesOptimisticLock(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewRepository(db)
	ledger := insertLedger(t, db, uuid.New())

	affected, err := repo.UpdateBalances(context.Background(), ledger.ID, 0, map[string]any{
		"total_points":     int64(100),
		"available_points": int64(100),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// a writer holding the stale version must lose
	affected, err = repo.UpdateBalances(context.Background(), ledger.ID, 0, map[string]any{
		"available_points": int64(50),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	updated, err := repo.FindByID(context.Background(), ledger.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.AvailablePoints)
	assert.Equal(t, int64(1), updated.Version)
}

func TestPointsRepoSequenceAndTransactions(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewRepository(db)
	ledger := insertLedger(t, db, uuid.New())

	seq, err := repo.NextSequence(context.Background(), ledger.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	first := &models.PointsTransaction{
		ID:          uuid.New(),
		LedgerID:    ledger.ID,
		Sequence:    1,
		Type:        enums.PointsTransactionEarned,
		Points:      100,
		Description: "order delivered",
		Active:      true,
		CreatedAt:   time.Now().Add(-time.Minute),
	}
	second := &models.PointsTransaction{
		ID:          uuid.New(),
		LedgerID:    ledger.ID,
		Sequence:    2,
		Type:        enums.PointsTransactionUsed,
		Points:      40,
		Description: "checkout discount",
		Active:      true,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, repo.AppendTransaction(context.Background(), first))
	require.NoError(t, repo.AppendTransaction(context.Background(), second))

	seq, err = repo.NextSequence(context.Background(), ledger.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	listed, err := repo.ListTransactions(context.Background(), ledger.ID, nil, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID, listed[0].ID, "newest transaction first")
	assert.Equal(t, first.ID, listed[1].ID)
}

func TestPointsRepoExpirableLifecycle(t *testing.T) {
	db := setupPointsTestDB(t)
	repo := NewRepository(db)
	ledger := insertLedger(t, db, uuid.New())

	expired := time.Now().Add(-time.Hour)
	future := time.Now().Add(24 * time.Hour)
	lapsed := &models.PointsTransaction{
		ID:          uuid.New(),
		LedgerID:    ledger.ID,
		Sequence:    1,
		Type:        enums.PointsTransactionEarned,
		Points:      100,
		Description: "old accrual",
		ExpiresAt:   &expired,
		Active:      true,
	}
	fresh := &models.PointsTransaction{
		ID:          uuid.New(),
		LedgerID:    ledger.ID,
		Sequence:    2,
		Type:        enums.PointsTransactionEarned,
		Points:      50,
		Description: "recent accrual",
		ExpiresAt:   &future,
		Active:      true,
	}
	require.NoError(t, repo.AppendTransaction(context.Background(), lapsed))
	require.NoError(t, repo.AppendTransaction(context.Background(), fresh))

	expirable, err := repo.ListActiveExpirable(context.Background(), ledger.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, expirable, 1)
	assert.Equal(t, lapsed.ID, expirable[0].ID)

	require.NoError(t, repo.DeactivateTransactions(context.Background(), []uuid.UUID{lapsed.ID}))

	expirable, err = repo.ListActiveExpirable(context.Background(), ledger.ID, time.Now())
	require.NoError(t, err)
	assert.Empty(t, expirable)
}
