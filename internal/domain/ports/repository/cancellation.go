package repository

import (
	"context"

	"ticketing-refund-core/internal/domain/model"
)

// CancellationRepository persists event cancellations. Records are never
// deleted; withdrawn drafts stay for audit.
type CancellationRepository interface {
	// Create inserts a new cancellation. A live (non-withdrawn) record for
	// the same event must fail atomically with
	// domain.ErrCancellationExists.
	Create(ctx context.Context, tx Tx, c *model.EventCancellation) error
	// Save updates status, plan, counters and processing errors.
	Save(ctx context.Context, tx Tx, c *model.EventCancellation) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.EventCancellation, error)
	// FindLiveByEvent returns the non-withdrawn cancellation for the event,
	// or domain.ErrNotFound.
	FindLiveByEvent(ctx context.Context, tx Tx, eventID string) (*model.EventCancellation, error)
	// ListProcessing returns cancellations interrupted mid-pipeline, for
	// crash recovery at boot.
	ListProcessing(ctx context.Context, tx Tx) ([]*model.EventCancellation, error)
}
