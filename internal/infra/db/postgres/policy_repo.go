package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/repository"
)

var _ repository.RefundPolicyRepository = (*policyRepo)(nil)

type policyRepo struct{ pool *pgxpool.Pool }

func NewPolicyRepo(pool *pgxpool.Pool) *policyRepo {
	return &policyRepo{pool: pool}
}

func (r *policyRepo) FindForTicket(ctx context.Context, tx repository.Tx, eventID, ticketTypeID string) (*model.RefundPolicy, error) {
	// The ticket-type row wins over the event-wide row (ticket_type_id='').
	const q = `
SELECT event_id, ticket_type_id, is_refundable, refund_deadline_hours, refund_percentage,
       full_refund_deadline_hours, partial_refund_deadline_hours, partial_refund_percentage,
       processing_fee_percentage, max_refunds_per_user
FROM refund_policies
WHERE event_id=$1 AND ticket_type_id IN ($2, '')
ORDER BY ticket_type_id DESC
LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, eventID, ticketTypeID)
	if err != nil {
		return nil, err
	}
	p := &model.RefundPolicy{}
	err = row.Scan(&p.EventID, &p.TicketTypeID, &p.IsRefundable, &p.RefundDeadlineHours, &p.RefundPercentage,
		&p.FullRefundDeadlineHours, &p.PartialRefundDeadlineHours, &p.PartialRefundPercentage,
		&p.ProcessingFeePercentage, &p.MaxRefundsPerUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}
