package points

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
	"github.com/medimarthq/settlement-backend/pkg/pagination"
)

// maxVersionRetries bounds optimistic-concurrency retries on a ledger before
// the mutation is surfaced as a conflict.
const maxVersionRetries = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the customer points ledger operations.
type Service interface {
	FindOrCreate(ctx context.Context, customerID uuid.UUID) (*models.PointsLedger, error)
	AddPoints(ctx context.Context, input AddPointsInput) (*models.PointsLedger, error)
	AddPointsTx(ctx context.Context, tx *gorm.DB, input AddPointsInput) (*models.PointsLedger, error)
	UsePoints(ctx context.Context, input UsePointsInput) (*models.PointsLedger, error)
	ExpireOldPoints(ctx context.Context, customerID uuid.UUID) (*ExpiryResult, error)
	Balance(ctx context.Context, customerID uuid.UUID) (*models.PointsLedger, error)
	Transactions(ctx context.Context, customerID uuid.UUID, params pagination.Params) ([]models.PointsTransaction, string, error)
	SweepExpired(ctx context.Context, asOf time.Time, batchSize int) (*SweepResult, error)
	PointsToCurrencyCents(ledger *models.PointsLedger, points int64) int64
	CurrencyCentsToPoints(ledger *models.PointsLedger, cents int64) int64
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	cfg    config.SettlementConfig
}

// AddPointsInput credits a customer ledger. When RefundRef is set the credit
// is replay-safe: a second call with the same reference is a no-op.
type AddPointsInput struct {
	CustomerID  uuid.UUID
	Type        enums.PointsTransactionType
	Points      int64
	Description string
	OrderID     *uuid.UUID
	PaymentID   *uuid.UUID
	RefundRef   string
	ActorUserID uuid.UUID
	ActorRole   string
}

// UsePointsInput debits available points for a redemption.
type UsePointsInput struct {
	CustomerID  uuid.UUID
	Points      int64
	Description string
	OrderID     *uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   string
}

// ExpiryResult reports one ledger's sweep outcome.
type ExpiryResult struct {
	Ledger        *models.PointsLedger
	ExpiredPoints int64
	SweptEntries  int
}

// SweepResult aggregates a batch sweep across ledgers.
type SweepResult struct {
	LedgersSwept  int
	ExpiredPoints int64
}

// NewService builds a points ledger service with the required dependencies.
func NewService(repo Repository, tx txRunner, ob outboxPublisher, cfg config.SettlementConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("points repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ob == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: ob, cfg: cfg}, nil
}

func (s *service) FindOrCreate(ctx context.Context, customerID uuid.UUID) (*models.PointsLedger, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	return s.findOrCreate(ctx, s.repo, customerID)
}

func (s *service) findOrCreate(ctx context.Context, repo Repository, customerID uuid.UUID) (*models.PointsLedger, error) {
	ledger, err := repo.FindByCustomerID(ctx, customerID)
	if err == nil {
		return ledger, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load points ledger")
	}

	expiryDays := s.cfg.PointsExpiryDays
	if expiryDays <= 0 {
		expiryDays = 365
	}
	ledger = &models.PointsLedger{
		CustomerID:     customerID,
		ConversionRate: decimal.NewFromInt(1),
		ExpiryDays:     expiryDays,
	}
	if err := repo.Create(ctx, ledger); err != nil {
		// A concurrent request may have created the row first.
		if dbpkg.IsUniqueViolation(err, "") || err == gorm.ErrDuplicatedKey {
			existing, findErr := repo.FindByCustomerID(ctx, customerID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load points ledger")
			}
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create points ledger")
	}
	return ledger, nil
}

func (s *service) AddPoints(ctx context.Context, input AddPointsInput) (*models.PointsLedger, error) {
	var ledger *models.PointsLedger
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		ledger, txErr = s.AddPointsTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// AddPointsTx credits points inside the caller's transaction so refund
// orchestration can commit the credit atomically with the money movements.
func (s *service) AddPointsTx(ctx context.Context, tx *gorm.DB, input AddPointsInput) (*models.PointsLedger, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.Points <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points must be positive")
	}
	if !input.Type.IsValid() || !input.Type.Credits() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("type %q does not credit points", input.Type))
	}

	repo := s.repo.WithTx(tx)

	ledger, err := s.findOrCreate(ctx, repo, input.CustomerID)
	if err != nil {
		return nil, err
	}

	if input.RefundRef != "" {
		existing, findErr := repo.FindTransactionByRefundRef(ctx, ledger.ID, input.RefundRef)
		if findErr != nil && findErr != gorm.ErrRecordNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "check refund credit")
		}
		if existing != nil {
			return ledger, nil
		}
	}

	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		updated, retry, mutErr := s.creditOnce(ctx, repo, tx, ledger, input)
		if mutErr != nil {
			return nil, mutErr
		}
		if !retry {
			return updated, nil
		}
		ledger, err = repo.FindByCustomerID(ctx, input.CustomerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload points ledger")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "points ledger busy, retry")
}

func (s *service) creditOnce(ctx context.Context, repo Repository, tx *gorm.DB, ledger *models.PointsLedger, input AddPointsInput) (*models.PointsLedger, bool, error) {
	affected, err := repo.UpdateBalances(ctx, ledger.ID, ledger.Version, map[string]any{
		"total_points":     ledger.TotalPoints + input.Points,
		"available_points": ledger.AvailablePoints + input.Points,
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update points balance")
	}
	if affected == 0 {
		return nil, true, nil
	}

	sequence, err := repo.NextSequence(ctx, ledger.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "next points sequence")
	}

	expiresAt := time.Now().UTC().AddDate(0, 0, ledger.ExpiryDays)
	transaction := &models.PointsTransaction{
		LedgerID:    ledger.ID,
		Sequence:    sequence,
		Type:        input.Type,
		Points:      input.Points,
		Description: input.Description,
		OrderID:     input.OrderID,
		PaymentID:   input.PaymentID,
		ExpiresAt:   &expiresAt,
		Active:      true,
	}
	if input.RefundRef != "" {
		refundRef := input.RefundRef
		transaction.RefundRef = &refundRef
	}
	if err := repo.AppendTransaction(ctx, transaction); err != nil {
		// The balance row is already updated in this transaction; a sequence
		// collision here means a writer slipped past the version check, and on
		// Postgres the statement error has poisoned the transaction anyway.
		// Fail the whole operation so the caller rolls back instead of
		// crediting the balance a second time on a retry.
		if dbpkg.IsUniqueViolation(err, "ux_points_transactions_ledger_seq") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "points ledger busy, retry")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append points transaction")
	}

	updated := *ledger
	updated.TotalPoints += input.Points
	updated.AvailablePoints += input.Points
	updated.Version = ledger.Version + 1

	event := outbox.DomainEvent{
		EventType:     enums.EventPointsCredited,
		AggregateType: enums.AggregatePointsLedger,
		AggregateID:   ledger.ID,
		Version:       1,
		Actor:         actorRef(input.ActorUserID, input.ActorRole),
		Data: payloads.PointsCreditedEvent{
			LedgerID:   ledger.ID,
			CustomerID: ledger.CustomerID,
			Type:       input.Type,
			Points:     input.Points,
			Available:  updated.AvailablePoints,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit points credited")
	}
	return &updated, false, nil
}

func (s *service) UsePoints(ctx context.Context, input UsePointsInput) (*models.PointsLedger, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.Points <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "points must be positive")
	}

	var ledger *models.PointsLedger
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, txErr := repo.FindByCustomerID(ctx, input.CustomerID)
		if txErr != nil {
			if txErr == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeInsufficientPoints, "insufficient points")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "load points ledger")
		}

		for attempt := 0; attempt < maxVersionRetries; attempt++ {
			if current.AvailablePoints < input.Points {
				return pkgerrors.New(pkgerrors.CodeInsufficientPoints,
					fmt.Sprintf("insufficient points: have %d, need %d", current.AvailablePoints, input.Points))
			}

			updated, retry, mutErr := s.debitOnce(ctx, repo, tx, current, input)
			if mutErr != nil {
				return mutErr
			}
			if !retry {
				ledger = updated
				return nil
			}
			current, txErr = repo.FindByCustomerID(ctx, input.CustomerID)
			if txErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "reload points ledger")
			}
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "points ledger busy, retry")
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func (s *service) debitOnce(ctx context.Context, repo Repository, tx *gorm.DB, ledger *models.PointsLedger, input UsePointsInput) (*models.PointsLedger, bool, error) {
	affected, err := repo.UpdateBalances(ctx, ledger.ID, ledger.Version, map[string]any{
		"available_points": ledger.AvailablePoints - input.Points,
		"used_points":      ledger.UsedPoints + input.Points,
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update points balance")
	}
	if affected == 0 {
		return nil, true, nil
	}

	sequence, err := repo.NextSequence(ctx, ledger.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "next points sequence")
	}

	transaction := &models.PointsTransaction{
		LedgerID:    ledger.ID,
		Sequence:    sequence,
		Type:        enums.PointsTransactionUsed,
		Points:      input.Points,
		Description: input.Description,
		OrderID:     input.OrderID,
		Active:      true,
	}
	if err := repo.AppendTransaction(ctx, transaction); err != nil {
		// Same rule as the credit path: the balance debit already landed, so a
		// sequence collision must abort the transaction rather than retry and
		// debit the ledger twice.
		if dbpkg.IsUniqueViolation(err, "ux_points_transactions_ledger_seq") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "points ledger busy, retry")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append points transaction")
	}

	updated := *ledger
	updated.AvailablePoints -= input.Points
	updated.UsedPoints += input.Points
	updated.Version = ledger.Version + 1

	event := outbox.DomainEvent{
		EventType:     enums.EventPointsRedeemed,
		AggregateType: enums.AggregatePointsLedger,
		AggregateID:   ledger.ID,
		Version:       1,
		Actor:         actorRef(input.ActorUserID, input.ActorRole),
		Data: payloads.PointsRedeemedEvent{
			LedgerID:   ledger.ID,
			CustomerID: ledger.CustomerID,
			Points:     input.Points,
			OrderID:    input.OrderID,
			Available:  updated.AvailablePoints,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit points redeemed")
	}
	return &updated, false, nil
}

// ExpireOldPoints retires active earned credits whose expiry window passed.
// Only earned entries are swept; refund credits carry an expiry date but stay
// active until redeemed. The sweep is capped at the available balance so the
// ledger never goes negative.
func (s *service) ExpireOldPoints(ctx context.Context, customerID uuid.UUID) (*ExpiryResult, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}

	var result *ExpiryResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		ledger, txErr := repo.FindByCustomerID(ctx, customerID)
		if txErr != nil {
			if txErr == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "points ledger not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "load points ledger")
		}

		expirable, txErr := repo.ListActiveExpirable(ctx, ledger.ID, time.Now().UTC())
		if txErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "list expirable points")
		}
		if len(expirable) == 0 {
			result = &ExpiryResult{Ledger: ledger}
			return nil
		}

		var sweepable int64
		ids := make([]uuid.UUID, 0, len(expirable))
		for _, transaction := range expirable {
			sweepable += transaction.Points
			ids = append(ids, transaction.ID)
		}
		expired := sweepable
		if expired > ledger.AvailablePoints {
			expired = ledger.AvailablePoints
		}

		affected, txErr := repo.UpdateBalances(ctx, ledger.ID, ledger.Version, map[string]any{
			"available_points": ledger.AvailablePoints - expired,
			"expired_points":   ledger.ExpiredPoints + expired,
		})
		if txErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "update points balance")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "points ledger busy, retry")
		}

		if txErr := repo.DeactivateTransactions(ctx, ids); txErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "deactivate expired points")
		}

		sequence, txErr := repo.NextSequence(ctx, ledger.ID)
		if txErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "next points sequence")
		}
		marker := &models.PointsTransaction{
			LedgerID:    ledger.ID,
			Sequence:    sequence,
			Type:        enums.PointsTransactionExpired,
			Points:      expired,
			Description: fmt.Sprintf("expired %d earned entries", len(ids)),
			Active:      false,
		}
		if txErr := repo.AppendTransaction(ctx, marker); txErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "append expiry marker")
		}

		updated := *ledger
		updated.AvailablePoints -= expired
		updated.ExpiredPoints += expired
		updated.Version = ledger.Version + 1

		event := outbox.DomainEvent{
			EventType:     enums.EventPointsExpired,
			AggregateType: enums.AggregatePointsLedger,
			AggregateID:   ledger.ID,
			Version:       1,
			Data: payloads.PointsExpiredEvent{
				LedgerID:      ledger.ID,
				CustomerID:    ledger.CustomerID,
				ExpiredPoints: expired,
				Available:     updated.AvailablePoints,
			},
		}
		if txErr := s.outbox.Emit(ctx, tx, event); txErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "emit points expired")
		}

		result = &ExpiryResult{
			Ledger:        &updated,
			ExpiredPoints: expired,
			SweptEntries:  len(ids),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Balance runs the expiry sweep first so callers never see points that are
// already past their window.
func (s *service) Balance(ctx context.Context, customerID uuid.UUID) (*models.PointsLedger, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}

	result, err := s.ExpireOldPoints(ctx, customerID)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return s.FindOrCreate(ctx, customerID)
		}
		return nil, err
	}
	return result.Ledger, nil
}

func (s *service) Transactions(ctx context.Context, customerID uuid.UUID, params pagination.Params) ([]models.PointsTransaction, string, error) {
	if customerID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}

	ledger, err := s.repo.FindByCustomerID(ctx, customerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return []models.PointsTransaction{}, "", nil
		}
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load points ledger")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	transactions, err := s.repo.ListTransactions(ctx, ledger.ID, cursor, limit+1)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list points transactions")
	}

	nextCursor := ""
	if len(transactions) > limit {
		transactions = transactions[:limit]
		last := transactions[len(transactions)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return transactions, nextCursor, nil
}

// SweepExpired walks every ledger with overdue earned credits, for the
// scheduled expiry job.
func (s *service) SweepExpired(ctx context.Context, asOf time.Time, batchSize int) (*SweepResult, error) {
	customerIDs, err := s.repo.ListCustomersWithExpirable(ctx, asOf, batchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expirable ledgers")
	}

	result := &SweepResult{}
	for _, customerID := range customerIDs {
		expiry, sweepErr := s.ExpireOldPoints(ctx, customerID)
		if sweepErr != nil {
			return result, sweepErr
		}
		if expiry.ExpiredPoints > 0 {
			result.LedgersSwept++
			result.ExpiredPoints += expiry.ExpiredPoints
		}
	}
	return result, nil
}

// PointsToCurrencyCents prices a redemption using the ledger's conversion
// rate in currency units per point.
func (s *service) PointsToCurrencyCents(ledger *models.PointsLedger, points int64) int64 {
	return decimal.NewFromInt(points).
		Mul(ledger.ConversionRate).
		Mul(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}

// CurrencyCentsToPoints converts an amount into the points needed to cover
// it, rounded down.
func (s *service) CurrencyCentsToPoints(ledger *models.PointsLedger, cents int64) int64 {
	if ledger.ConversionRate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(cents).
		Div(decimal.NewFromInt(100)).
		DivRound(ledger.ConversionRate, 8).
		Floor().
		IntPart()
}

func actorRef(userID uuid.UUID, role string) *outbox.ActorRef {
	if userID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: userID, Role: role}
}
