package refunds

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TicketResolver closes the support ticket that initiated a refund once the
// bookkeeping committed.
type TicketResolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, ticketID uuid.UUID, note string) error
}

type ticketResolver struct{}

// NewTicketResolver returns the default resolver writing directly to the
// support_tickets table.
func NewTicketResolver() TicketResolver {
	return ticketResolver{}
}

func (ticketResolver) Resolve(ctx context.Context, tx *gorm.DB, ticketID uuid.UUID, note string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE support_tickets
		 SET status = 'resolved', resolution_note = ?, resolved_at = NOW(), updated_at = NOW()
		 WHERE id = ? AND status <> 'resolved'`,
		note, ticketID,
	).Error
}
