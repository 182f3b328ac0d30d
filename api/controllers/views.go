package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/medimarthq/settlement-backend/pkg/db/models"
)

// paymentView is the wire shape for one vendor-scoped ledger entry.
type paymentView struct {
	ID                   uuid.UUID  `json:"id"`
	OrderID              uuid.UUID  `json:"orderId"`
	VendorID             uuid.UUID  `json:"vendorId"`
	AmountCents          int64      `json:"amountCents"`
	Currency             string     `json:"currency"`
	CommissionBps        int        `json:"commissionBps"`
	VendorEarningsCents  int64      `json:"vendorEarningsCents"`
	PlatformRevenueCents int64      `json:"platformRevenueCents"`
	Method               string     `json:"method"`
	Status               string     `json:"status"`
	TransactionRef       string     `json:"transactionRef"`
	RefundedCents        int64      `json:"refundedCents"`
	CompletedAt          *time.Time `json:"completedAt,omitempty"`
	FailureReason        *string    `json:"failureReason,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

func newPaymentView(p *models.Payment) *paymentView {
	if p == nil {
		return nil
	}
	return &paymentView{
		ID:                   p.ID,
		OrderID:              p.OrderID,
		VendorID:             p.VendorID,
		AmountCents:          p.AmountCents,
		Currency:             string(p.Currency),
		CommissionBps:        p.CommissionBps,
		VendorEarningsCents:  p.VendorEarningsCents,
		PlatformRevenueCents: p.PlatformRevenueCents,
		Method:               string(p.Method),
		Status:               string(p.Status),
		TransactionRef:       p.TransactionRef,
		RefundedCents:        p.RefundedCents,
		CompletedAt:          p.CompletedAt,
		FailureReason:        p.FailureReason,
		CreatedAt:            p.CreatedAt,
	}
}

func newPaymentViews(payments []models.Payment) []paymentView {
	views := make([]paymentView, 0, len(payments))
	for i := range payments {
		views = append(views, *newPaymentView(&payments[i]))
	}
	return views
}

type ledgerView struct {
	CustomerID      uuid.UUID `json:"customerId"`
	TotalPoints     int64     `json:"totalPoints"`
	AvailablePoints int64     `json:"availablePoints"`
	UsedPoints      int64     `json:"usedPoints"`
	ExpiredPoints   int64     `json:"expiredPoints"`
	ConversionRate  string    `json:"conversionRate"`
	ExpiryDays      int       `json:"expiryDays"`
	Version         int64     `json:"version"`
}

func newLedgerView(l *models.PointsLedger) *ledgerView {
	if l == nil {
		return nil
	}
	return &ledgerView{
		CustomerID:      l.CustomerID,
		TotalPoints:     l.TotalPoints,
		AvailablePoints: l.AvailablePoints,
		UsedPoints:      l.UsedPoints,
		ExpiredPoints:   l.ExpiredPoints,
		ConversionRate:  l.ConversionRate.String(),
		ExpiryDays:      l.ExpiryDays,
		Version:         l.Version,
	}
}

type transactionView struct {
	ID          uuid.UUID  `json:"id"`
	Sequence    int64      `json:"sequence"`
	Type        string     `json:"type"`
	Points      int64      `json:"points"`
	Description string     `json:"description"`
	OrderID     *uuid.UUID `json:"orderId,omitempty"`
	PaymentID   *uuid.UUID `json:"paymentId,omitempty"`
	RefundRef   *string    `json:"refundRef,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func newTransactionViews(transactions []models.PointsTransaction) []transactionView {
	views := make([]transactionView, 0, len(transactions))
	for _, tx := range transactions {
		views = append(views, transactionView{
			ID:          tx.ID,
			Sequence:    tx.Sequence,
			Type:        string(tx.Type),
			Points:      tx.Points,
			Description: tx.Description,
			OrderID:     tx.OrderID,
			PaymentID:   tx.PaymentID,
			RefundRef:   tx.RefundRef,
			ExpiresAt:   tx.ExpiresAt,
			Active:      tx.Active,
			CreatedAt:   tx.CreatedAt,
		})
	}
	return views
}

type vendorStatusView struct {
	VendorID    uuid.UUID  `json:"vendorId"`
	Status      string     `json:"status"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type orderView struct {
	ID             uuid.UUID          `json:"id"`
	CustomerID     uuid.UUID          `json:"customerId"`
	Currency       string             `json:"currency"`
	SubtotalCents  int64              `json:"subtotalCents"`
	TotalCents     int64              `json:"totalCents"`
	Status         string             `json:"status"`
	PaymentStatus  string             `json:"paymentStatus"`
	VendorStatuses []vendorStatusView `json:"vendorStatuses"`
	CreatedAt      time.Time          `json:"createdAt"`
}

func newOrderView(order *models.Order) *orderView {
	if order == nil {
		return nil
	}
	statuses := make([]vendorStatusView, 0, len(order.VendorStatuses))
	for _, vs := range order.VendorStatuses {
		statuses = append(statuses, vendorStatusView{
			VendorID:    vs.VendorID,
			Status:      string(vs.Status),
			DeliveredAt: vs.DeliveredAt,
			CancelledAt: vs.CancelledAt,
			UpdatedAt:   vs.UpdatedAt,
		})
	}
	return &orderView{
		ID:             order.ID,
		CustomerID:     order.CustomerID,
		Currency:       string(order.Currency),
		SubtotalCents:  order.SubtotalCents,
		TotalCents:     order.TotalCents,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		VendorStatuses: statuses,
		CreatedAt:      order.CreatedAt,
	}
}

type historyView struct {
	VendorID   *uuid.UUID `json:"vendorId,omitempty"`
	FromStatus string     `json:"fromStatus"`
	ToStatus   string     `json:"toStatus"`
	Note       *string    `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func newHistoryViews(entries []models.OrderStatusHistory) []historyView {
	views := make([]historyView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, historyView{
			VendorID:   entry.VendorID,
			FromStatus: string(entry.FromStatus),
			ToStatus:   string(entry.ToStatus),
			Note:       entry.Note,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return views
}

type taskView struct {
	ID             uuid.UUID `json:"id"`
	PaymentID      uuid.UUID `json:"paymentId"`
	RefundRef      string    `json:"refundRef"`
	Status         string    `json:"status"`
	AttemptCount   int       `json:"attemptCount"`
	PaymentDone    bool      `json:"paymentDone"`
	AdjustmentDone bool      `json:"adjustmentDone"`
	PointsDone     bool      `json:"pointsDone"`
	TicketDone     bool      `json:"ticketDone"`
	NextAttemptAt  time.Time `json:"nextAttemptAt"`
	LastError      *string   `json:"lastError,omitempty"`
}

func newTaskView(task *models.ReconciliationTask) *taskView {
	if task == nil {
		return nil
	}
	return &taskView{
		ID:             task.ID,
		PaymentID:      task.PaymentID,
		RefundRef:      task.RefundRef,
		Status:         string(task.Status),
		AttemptCount:   task.AttemptCount,
		PaymentDone:    task.PaymentDone,
		AdjustmentDone: task.AdjustmentDone,
		PointsDone:     task.PointsDone,
		TicketDone:     task.TicketDone,
		NextAttemptAt:  task.NextAttemptAt,
		LastError:      task.LastError,
	}
}
