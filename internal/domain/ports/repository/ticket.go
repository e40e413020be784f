package repository

import (
	"context"

	"ticketing-refund-core/internal/domain/model"
)

// TicketRepository is the read model of sold tickets plus the two mutations
// the cancellation pipeline needs (bulk invalidation, marking refunded).
type TicketRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Ticket, error)
	// FindSoldByEvent returns every ticket sold for the event, any scan state.
	FindSoldByEvent(ctx context.Context, tx Tx, eventID string) ([]*model.Ticket, error)
	// InvalidateByEvent voids all still-valid tickets for a cancelled event
	// and returns how many were invalidated.
	InvalidateByEvent(ctx context.Context, tx Tx, eventID string) (int, error)
	// MarkRefunded flips the ticket to refunded once its request completes.
	MarkRefunded(ctx context.Context, tx Tx, ticketID string) error
}

type EventRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Event, error)
	MarkCancelled(ctx context.Context, tx Tx, id string) error
}

// RefundPolicyRepository resolves the effective policy for a ticket. A
// ticket-type policy wins over the event policy; domain.ErrNotFound means
// the documented default policy applies.
type RefundPolicyRepository interface {
	FindForTicket(ctx context.Context, tx Tx, eventID, ticketTypeID string) (*model.RefundPolicy, error)
}
