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

var _ repository.EventRepository = (*eventRepo)(nil)

type eventRepo struct{ pool *pgxpool.Pool }

func NewEventRepo(pool *pgxpool.Pool) *eventRepo {
	return &eventRepo{pool: pool}
}

func (r *eventRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Event, error) {
	const q = `SELECT id, name, status, start_date, end_date FROM events WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	e := &model.Event{}
	if err := row.Scan(&e.ID, &e.Name, &e.Status, &e.StartDate, &e.EndDate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return e, nil
}

func (r *eventRepo) MarkCancelled(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE events SET status='cancelled' WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, id); err != nil {
		return domain.ErrOperationFailed
	}
	return nil
}
