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

var _ repository.TicketRepository = (*ticketRepo)(nil)

type ticketRepo struct{ pool *pgxpool.Pool }

func NewTicketRepo(pool *pgxpool.Pool) *ticketRepo {
	return &ticketRepo{pool: pool}
}

const ticketColumns = `id, event_id, user_id, ticket_type_id, price, currency, status, scan_status, scanned_at, payment_method, payment_reference, purchased_at`

func (r *ticketRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTicket(row)
}

func (r *ticketRepo) FindSoldByEvent(ctx context.Context, tx repository.Tx, eventID string) ([]*model.Ticket, error) {
	const q = `SELECT ` + ticketColumns + ` FROM tickets WHERE event_id=$1 ORDER BY purchased_at;`
	rows, err := pickRows(ctx, r.pool, tx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *ticketRepo) InvalidateByEvent(ctx context.Context, tx repository.Tx, eventID string) (int, error) {
	const q = `UPDATE tickets SET status='invalidated' WHERE event_id=$1 AND status='valid';`
	tag, err := execSQL(ctx, r.pool, tx, q, eventID)
	if err != nil {
		return 0, domain.ErrOperationFailed
	}
	return int(tag.RowsAffected()), nil
}

func (r *ticketRepo) MarkRefunded(ctx context.Context, tx repository.Tx, ticketID string) error {
	const q = `UPDATE tickets SET status='refunded' WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, ticketID); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	t := &model.Ticket{}
	err := row.Scan(&t.ID, &t.EventID, &t.UserID, &t.TicketTypeID, &t.Price, &t.Currency,
		&t.Status, &t.ScanStatus, &t.ScannedAt, &t.PaymentMethod, &t.PaymentReference, &t.PurchasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return t, nil
}
