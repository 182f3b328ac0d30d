package points

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/config"
	"github.com/medimarthq/settlement-backend/pkg/db/models"
	"github.com/medimarthq/settlement-backend/pkg/enums"
	pkgerrors "github.com/medimarthq/settlement-backend/pkg/errors"
	"github.com/medimarthq/settlement-backend/pkg/outbox"
	"github.com/medimarthq/settlement-backend/pkg/pagination"
)

type stubPointsRepo struct {
	ledgers      map[uuid.UUID]*models.PointsLedger
	transactions []*models.PointsTransaction
}

func newStubPointsRepo() *stubPointsRepo {
	return &stubPointsRepo{ledgers: map[uuid.UUID]*models.PointsLedger{}}
}

func (s *stubPointsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubPointsRepo) Create(ctx context.Context, ledger *models.PointsLedger) error {
	if _, exists := s.ledgers[ledger.CustomerID]; exists {
		return gorm.ErrDuplicatedKey
	}
	if ledger.ID == uuid.Nil {
		ledger.ID = uuid.New()
	}
	clone := *ledger
	s.ledgers[ledger.CustomerID] = &clone
	return nil
}

func (s *stubPointsRepo) FindByCustomerID(ctx context.Context, customerID uuid.UUID) (*models.PointsLedger, error) {
	ledger, ok := s.ledgers[customerID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *ledger
	return &clone, nil
}

func (s *stubPointsRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.PointsLedger, error) {
	for _, ledger := range s.ledgers {
		if ledger.ID == id {
			clone := *ledger
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPointsRepo) UpdateBalances(ctx context.Context, id uuid.UUID, fromVersion int64, updates map[string]any) (int64, error) {
	for _, ledger := range s.ledgers {
		if ledger.ID != id || ledger.Version != fromVersion {
			continue
		}
		if v, ok := updates["total_points"]; ok {
			ledger.TotalPoints = v.(int64)
		}
		if v, ok := updates["available_points"]; ok {
			ledger.AvailablePoints = v.(int64)
		}
		if v, ok := updates["used_points"]; ok {
			ledger.UsedPoints = v.(int64)
		}
		if v, ok := updates["expired_points"]; ok {
			ledger.ExpiredPoints = v.(int64)
		}
		ledger.Version = fromVersion + 1
		return 1, nil
	}
	return 0, nil
}

func (s *stubPointsRepo) AppendTransaction(ctx context.Context, transaction *models.PointsTransaction) error {
	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = time.Now().UTC()
	}
	clone := *transaction
	s.transactions = append(s.transactions, &clone)
	return nil
}

func (s *stubPointsRepo) NextSequence(ctx context.Context, ledgerID uuid.UUID) (int64, error) {
	var max int64
	for _, transaction := range s.transactions {
		if transaction.LedgerID == ledgerID && transaction.Sequence > max {
			max = transaction.Sequence
		}
	}
	return max + 1, nil
}

func (s *stubPointsRepo) ListTransactions(ctx context.Context, ledgerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.PointsTransaction, error) {
	var out []models.PointsTransaction
	for _, transaction := range s.transactions {
		if transaction.LedgerID == ledgerID {
			out = append(out, *transaction)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubPointsRepo) ListActiveExpirable(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) ([]models.PointsTransaction, error) {
	var out []models.PointsTransaction
	for _, transaction := range s.transactions {
		if transaction.LedgerID != ledgerID || !transaction.Active {
			continue
		}
		if transaction.Type != enums.PointsTransactionEarned {
			continue
		}
		if transaction.ExpiresAt == nil || transaction.ExpiresAt.After(asOf) {
			continue
		}
		out = append(out, *transaction)
	}
	return out, nil
}

func (s *stubPointsRepo) DeactivateTransactions(ctx context.Context, ids []uuid.UUID) error {
	lookup := map[uuid.UUID]bool{}
	for _, id := range ids {
		lookup[id] = true
	}
	for _, transaction := range s.transactions {
		if lookup[transaction.ID] {
			transaction.Active = false
		}
	}
	return nil
}

func (s *stubPointsRepo) FindTransactionByRefundRef(ctx context.Context, ledgerID uuid.UUID, refundRef string) (*models.PointsTransaction, error) {
	for _, transaction := range s.transactions {
		if transaction.LedgerID == ledgerID && transaction.RefundRef != nil && *transaction.RefundRef == refundRef {
			clone := *transaction
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubPointsRepo) ListCustomersWithExpirable(ctx context.Context, asOf time.Time, limit int) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, transaction := range s.transactions {
		if transaction.Type != enums.PointsTransactionEarned || !transaction.Active {
			continue
		}
		if transaction.ExpiresAt == nil || transaction.ExpiresAt.After(asOf) {
			continue
		}
		for customerID, ledger := range s.ledgers {
			if ledger.ID == transaction.LedgerID && !seen[customerID] {
				seen[customerID] = true
				out = append(out, customerID)
			}
		}
	}
	return out, nil
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

func newTestService(t *testing.T, repo Repository, ob outboxPublisher) Service {
	t.Helper()
	svc, err := NewService(repo, stubTxRunner{}, ob, config.SettlementConfig{PointsExpiryDays: 365})
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}
	return svc
}

func seedLedger(repo *stubPointsRepo, customerID uuid.UUID, available, total int64) *models.PointsLedger {
	ledger := &models.PointsLedger{
		ID:              uuid.New(),
		CustomerID:      customerID,
		TotalPoints:     total,
		AvailablePoints: available,
		ConversionRate:  decimal.NewFromInt(1),
		ExpiryDays:      365,
	}
	repo.ledgers[customerID] = ledger
	return ledger
}

// conflictPointsRepo simulates a sequence collision: the balance update wins
// but every append hits the (ledger_id, sequence) unique index.
type conflictPointsRepo struct {
	*stubPointsRepo
	updateCalls int
}

func (c *conflictPointsRepo) WithTx(tx *gorm.DB) Repository { return c }

func (c *conflictPointsRepo) UpdateBalances(ctx context.Context, id uuid.UUID, fromVersion int64, updates map[string]any) (int64, error) {
	c.updateCalls++
	return c.stubPointsRepo.UpdateBalances(ctx, id, fromVersion, updates)
}

func (c *conflictPointsRepo) AppendTransaction(ctx context.Context, transaction *models.PointsTransaction) error {
	return errors.New("UNIQUE constraint failed: points_transactions.ledger_id, points_transactions.sequence (ux_points_transactions_ledger_seq)")
}

func TestAddPointsCreatesLedgerOnFirstCredit(t *testing.T) {
	repo := newStubPointsRepo()
	ob := &stubOutboxPublisher{}
	svc := newTestService(t, repo, ob)

	customerID := uuid.New()
	ledger, err := svc.AddPoints(context.Background(), AddPointsInput{
		CustomerID:  customerID,
		Type:        enums.PointsTransactionEarned,
		Points:      150,
		Description: "order accrual",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if ledger.AvailablePoints != 150 || ledger.TotalPoints != 150 {
		t.Fatalf("unexpected balances %d/%d", ledger.AvailablePoints, ledger.TotalPoints)
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected one transaction got %d", len(repo.transactions))
	}
	if repo.transactions[0].ExpiresAt == nil {
		t.Fatal("earned credit missing expiry date")
	}
	if repo.transactions[0].Sequence != 1 {
		t.Fatalf("expected sequence 1 got %d", repo.transactions[0].Sequence)
	}
	if len(ob.events) != 1 || ob.events[0].EventType != enums.EventPointsCredited {
		t.Fatalf("expected points credited event got %+v", ob.events)
	}
}

func TestAddPointsRefundCreditIsReplaySafe(t *testing.T) {
	repo := newStubPointsRepo()
	ob := &stubOutboxPublisher{}
	svc := newTestService(t, repo, ob)

	input := AddPointsInput{
		CustomerID:  uuid.New(),
		Type:        enums.PointsTransactionRefundCredit,
		Points:      2000,
		Description: "refund credit",
		RefundRef:   "rf-001",
	}
	if _, err := svc.AddPoints(context.Background(), input); err != nil {
		t.Fatalf("first credit failed: %v", err)
	}
	ledger, err := svc.AddPoints(context.Background(), input)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if ledger.AvailablePoints != 2000 {
		t.Fatalf("replay double-credited: available %d", ledger.AvailablePoints)
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected one transaction got %d", len(repo.transactions))
	}
	if len(ob.events) != 1 {
		t.Fatalf("expected one event got %d", len(ob.events))
	}
}

func TestAddPointsRejectsDebitTypes(t *testing.T) {
	repo := newStubPointsRepo()
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	_, err := svc.AddPoints(context.Background(), AddPointsInput{
		CustomerID: uuid.New(),
		Type:       enums.PointsTransactionUsed,
		Points:     10,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error got %v", err)
	}
}

func TestUsePointsDrainsExactBalance(t *testing.T) {
	repo := newStubPointsRepo()
	ob := &stubOutboxPublisher{}
	svc := newTestService(t, repo, ob)

	customerID := uuid.New()
	seedLedger(repo, customerID, 500, 500)

	ledger, err := svc.UsePoints(context.Background(), UsePointsInput{
		CustomerID:  customerID,
		Points:      500,
		Description: "order discount",
	})
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if ledger.AvailablePoints != 0 || ledger.UsedPoints != 500 {
		t.Fatalf("unexpected balances available=%d used=%d", ledger.AvailablePoints, ledger.UsedPoints)
	}

	_, err = svc.UsePoints(context.Background(), UsePointsInput{
		CustomerID: customerID,
		Points:     1,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientPoints {
		t.Fatalf("expected insufficient points got %v", err)
	}
	// The failed debit must not touch the ledger or the log.
	current, _ := repo.FindByCustomerID(context.Background(), customerID)
	if current.AvailablePoints != 0 || current.UsedPoints != 500 {
		t.Fatalf("failed debit mutated ledger: %+v", current)
	}
	if len(repo.transactions) != 1 {
		t.Fatalf("expected one transaction got %d", len(repo.transactions))
	}
}

func TestUsePointsSequenceConflictAbortsWithoutRetry(t *testing.T) {
	inner := newStubPointsRepo()
	customerID := uuid.New()
	seedLedger(inner, customerID, 500, 500)
	repo := &conflictPointsRepo{stubPointsRepo: inner}
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	_, err := svc.UsePoints(context.Background(), UsePointsInput{
		CustomerID:  customerID,
		Points:      200,
		Description: "order discount",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict got %v", err)
	}
	// Once the balance debit lands, a sequence collision must fail the
	// transaction; retrying would debit the ledger a second time.
	if repo.updateCalls != 1 {
		t.Fatalf("balance update ran %d times, want 1", repo.updateCalls)
	}
	if len(inner.transactions) != 0 {
		t.Fatalf("expected no transactions got %d", len(inner.transactions))
	}
}

func TestAddPointsSequenceConflictAbortsWithoutRetry(t *testing.T) {
	inner := newStubPointsRepo()
	customerID := uuid.New()
	seedLedger(inner, customerID, 0, 0)
	repo := &conflictPointsRepo{stubPointsRepo: inner}
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	_, err := svc.AddPoints(context.Background(), AddPointsInput{
		CustomerID: customerID,
		Type:       enums.PointsTransactionEarned,
		Points:     100,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict got %v", err)
	}
	if repo.updateCalls != 1 {
		t.Fatalf("balance update ran %d times, want 1", repo.updateCalls)
	}
}

func TestUsePointsUnknownCustomer(t *testing.T) {
	repo := newStubPointsRepo()
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	_, err := svc.UsePoints(context.Background(), UsePointsInput{
		CustomerID: uuid.New(),
		Points:     10,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientPoints {
		t.Fatalf("expected insufficient points got %v", err)
	}
}

func TestExpireOldPointsSweepsEarnedOnly(t *testing.T) {
	repo := newStubPointsRepo()
	ob := &stubOutboxPublisher{}
	svc := newTestService(t, repo, ob)

	customerID := uuid.New()
	ledger := seedLedger(repo, customerID, 400, 400)

	past := time.Now().UTC().AddDate(0, 0, -1)
	repo.transactions = append(repo.transactions, &models.PointsTransaction{
		ID:        uuid.New(),
		LedgerID:  ledger.ID,
		Sequence:  1,
		Type:      enums.PointsTransactionEarned,
		Points:    400,
		ExpiresAt: &past,
		Active:    true,
		CreatedAt: past,
	})
	// Refund credits keep their expiry date but are never swept.
	repo.transactions = append(repo.transactions, &models.PointsTransaction{
		ID:        uuid.New(),
		LedgerID:  ledger.ID,
		Sequence:  2,
		Type:      enums.PointsTransactionRefundCredit,
		Points:    100,
		ExpiresAt: &past,
		Active:    true,
		CreatedAt: past,
	})

	result, err := svc.ExpireOldPoints(context.Background(), customerID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.ExpiredPoints != 400 || result.SweptEntries != 1 {
		t.Fatalf("unexpected sweep %+v", result)
	}
	if result.Ledger.AvailablePoints != 0 || result.Ledger.ExpiredPoints != 400 {
		t.Fatalf("unexpected balances %+v", result.Ledger)
	}
	if repo.transactions[0].Active {
		t.Fatal("expired earned transaction still active")
	}
	if !repo.transactions[1].Active {
		t.Fatal("refund credit was swept")
	}

	last := repo.transactions[len(repo.transactions)-1]
	if last.Type != enums.PointsTransactionExpired || last.Points != 400 {
		t.Fatalf("unexpected expiry marker %+v", last)
	}
	if len(ob.events) != 1 || ob.events[0].EventType != enums.EventPointsExpired {
		t.Fatalf("expected points expired event got %+v", ob.events)
	}
}

func TestExpireOldPointsFloorsAtZero(t *testing.T) {
	repo := newStubPointsRepo()
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	customerID := uuid.New()
	// 400 points already spent, only 100 still available.
	ledger := seedLedger(repo, customerID, 100, 500)
	ledger.UsedPoints = 400

	past := time.Now().UTC().AddDate(0, 0, -1)
	repo.transactions = append(repo.transactions, &models.PointsTransaction{
		ID:        uuid.New(),
		LedgerID:  ledger.ID,
		Sequence:  1,
		Type:      enums.PointsTransactionEarned,
		Points:    400,
		ExpiresAt: &past,
		Active:    true,
		CreatedAt: past,
	})

	result, err := svc.ExpireOldPoints(context.Background(), customerID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.ExpiredPoints != 100 {
		t.Fatalf("expected sweep capped at 100 got %d", result.ExpiredPoints)
	}
	if result.Ledger.AvailablePoints != 0 {
		t.Fatalf("available went negative: %d", result.Ledger.AvailablePoints)
	}
}

func TestExpireOldPointsNothingDue(t *testing.T) {
	repo := newStubPointsRepo()
	ob := &stubOutboxPublisher{}
	svc := newTestService(t, repo, ob)

	customerID := uuid.New()
	seedLedger(repo, customerID, 200, 200)

	result, err := svc.ExpireOldPoints(context.Background(), customerID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.ExpiredPoints != 0 || result.SweptEntries != 0 {
		t.Fatalf("unexpected sweep %+v", result)
	}
	if len(ob.events) != 0 {
		t.Fatalf("expected no events got %d", len(ob.events))
	}
}

func TestSweepExpiredWalksLedgers(t *testing.T) {
	repo := newStubPointsRepo()
	svc := newTestService(t, repo, &stubOutboxPublisher{})

	past := time.Now().UTC().AddDate(0, 0, -2)
	for i := 0; i < 2; i++ {
		customerID := uuid.New()
		ledger := seedLedger(repo, customerID, 300, 300)
		repo.transactions = append(repo.transactions, &models.PointsTransaction{
			ID:        uuid.New(),
			LedgerID:  ledger.ID,
			Sequence:  1,
			Type:      enums.PointsTransactionEarned,
			Points:    300,
			ExpiresAt: &past,
			Active:    true,
			CreatedAt: past,
		})
	}

	result, err := svc.SweepExpired(context.Background(), time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if result.LedgersSwept != 2 || result.ExpiredPoints != 600 {
		t.Fatalf("unexpected sweep %+v", result)
	}
}

func TestConversionRoundTrip(t *testing.T) {
	svc := newTestService(t, newStubPointsRepo(), &stubOutboxPublisher{})

	ledger := &models.PointsLedger{ConversionRate: decimal.NewFromInt(1)}
	if got := svc.PointsToCurrencyCents(ledger, 500); got != 50000 {
		t.Fatalf("expected 50000 cents got %d", got)
	}
	if got := svc.CurrencyCentsToPoints(ledger, 50000); got != 500 {
		t.Fatalf("expected 500 points got %d", got)
	}

	half := &models.PointsLedger{ConversionRate: decimal.NewFromFloat(0.5)}
	if got := svc.PointsToCurrencyCents(half, 100); got != 5000 {
		t.Fatalf("expected 5000 cents got %d", got)
	}
	if got := svc.CurrencyCentsToPoints(half, 4999); got != 99 {
		t.Fatalf("expected 99 points got %d", got)
	}
}
