package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/repository"
)

var _ repository.CancellationRepository = (*cancellationRepo)(nil)

type cancellationRepo struct{ pool *pgxpool.Pool }

func NewCancellationRepo(pool *pgxpool.Pool) *cancellationRepo {
	return &cancellationRepo{pool: pool}
}

const cancellationColumns = `id, event_id, reason, reason_note, status, impact, plan, requested_by, confirmed_by, refunds_total, refunds_processed, refunds_failed, notifications_sent, notifications_failed, processing_errors, created_at, confirmed_at, processed_at, completed_at`

func (r *cancellationRepo) Create(ctx context.Context, tx repository.Tx, c *model.EventCancellation) error {
	impact, plan, procErrs, err := marshalCancellation(c)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO event_cancellations (
  id, event_id, reason, reason_note, status, impact, plan, requested_by, confirmed_by, refunds_total, refunds_processed, refunds_failed, notifications_sent, notifications_failed, processing_errors, created_at, confirmed_at, processed_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
);`
	_, err = execSQL(ctx, r.pool, tx, q,
		c.ID, c.EventID, c.Reason, c.ReasonNote, c.Status, impact, plan,
		c.RequestedBy, c.ConfirmedBy, c.RefundsTotal, c.RefundsProcessed, c.RefundsFailed,
		c.NotificationsSent, c.NotificationsFailed, procErrs,
		c.CreatedAt, c.ConfirmedAt, c.ProcessedAt, c.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// the partial unique index on live cancellations per event
			return domain.ErrCancellationExists
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *cancellationRepo) Save(ctx context.Context, tx repository.Tx, c *model.EventCancellation) error {
	impact, plan, procErrs, err := marshalCancellation(c)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE event_cancellations SET
  status=$2, impact=$3, plan=$4, confirmed_by=$5,
  refunds_total=$6, refunds_processed=$7, refunds_failed=$8,
  notifications_sent=$9, notifications_failed=$10, processing_errors=$11,
  confirmed_at=$12, processed_at=$13, completed_at=$14
WHERE id=$1;`
	_, err = execSQL(ctx, r.pool, tx, q,
		c.ID, c.Status, impact, plan, c.ConfirmedBy,
		c.RefundsTotal, c.RefundsProcessed, c.RefundsFailed,
		c.NotificationsSent, c.NotificationsFailed, procErrs,
		c.ConfirmedAt, c.ProcessedAt, c.CompletedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *cancellationRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EventCancellation, error) {
	q := `SELECT ` + cancellationColumns + ` FROM event_cancellations WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanCancellation(row)
}

func (r *cancellationRepo) FindLiveByEvent(ctx context.Context, tx repository.Tx, eventID string) (*model.EventCancellation, error) {
	q := `SELECT ` + cancellationColumns + ` FROM event_cancellations WHERE event_id=$1 AND status <> 'withdrawn' LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", eventID)
	if err != nil {
		return nil, err
	}
	return scanCancellation(row)
}

func (r *cancellationRepo) ListProcessing(ctx context.Context, tx repository.Tx) ([]*model.EventCancellation, error) {
	const q = `SELECT ` + cancellationColumns + ` FROM event_cancellations WHERE status='processing' ORDER BY created_at;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.EventCancellation
	for rows.Next() {
		c, err := scanCancellation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalCancellation(c *model.EventCancellation) (impact, plan, procErrs []byte, err error) {
	if impact, err = json.Marshal(c.Impact); err != nil {
		return
	}
	if plan, err = json.Marshal(c.Plan); err != nil {
		return
	}
	procErrs, err = json.Marshal(c.ProcessingErrors)
	return
}

func scanCancellation(row pgx.Row) (*model.EventCancellation, error) {
	c := &model.EventCancellation{}
	var impact, plan, procErrs []byte
	err := row.Scan(&c.ID, &c.EventID, &c.Reason, &c.ReasonNote, &c.Status,
		&impact, &plan, &c.RequestedBy, &c.ConfirmedBy,
		&c.RefundsTotal, &c.RefundsProcessed, &c.RefundsFailed,
		&c.NotificationsSent, &c.NotificationsFailed, &procErrs,
		&c.CreatedAt, &c.ConfirmedAt, &c.ProcessedAt, &c.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(impact, &c.Impact); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(plan, &c.Plan); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(procErrs, &c.ProcessingErrors); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return c, nil
}
