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

var _ repository.RefundRequestRepository = (*refundRequestRepo)(nil)

type refundRequestRepo struct{ pool *pgxpool.Pool }

func NewRefundRequestRepo(pool *pgxpool.Pool) *refundRequestRepo {
	return &refundRequestRepo{pool: pool}
}

const refundRequestColumns = `id, ticket_id, event_id, user_id, reason, requested_amount, approved_amount, processing_fee, currency, payment_method, payment_reference, status, status_history, failure_reason, created_at, updated_at`

func (r *refundRequestRepo) Save(ctx context.Context, tx repository.Tx, req *model.RefundRequest) error {
	history, err := json.Marshal(req.StatusHistory)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO refund_requests (
  id, ticket_id, event_id, user_id, reason, requested_amount, approved_amount, processing_fee, currency, payment_method, payment_reference, status, status_history, failure_reason, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
) ON CONFLICT (id) DO UPDATE SET
  approved_amount=$7, status=$12, status_history=$13, failure_reason=$14, updated_at=$16;`

	_, err = execSQL(ctx, r.pool, tx, q,
		req.ID, req.TicketID, req.EventID, req.UserID, req.Reason,
		req.RequestedAmount, req.ApprovedAmount, req.ProcessingFee, req.Currency,
		req.PaymentMethod, req.PaymentReference, req.Status, history,
		req.FailureReason, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// the partial unique index on active requests per ticket
			return domain.ErrActiveRefundExists
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *refundRequestRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.RefundRequest, error) {
	q := `SELECT ` + refundRequestColumns + ` FROM refund_requests WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanRefundRequest(row)
}

func (r *refundRequestRepo) FindBlocking(ctx context.Context, tx repository.Tx, ticketID string) (*model.RefundRequest, error) {
	// Non-final requests block, and so does a completed one: a refunded
	// ticket can never be refunded again.
	q := `SELECT ` + refundRequestColumns + ` FROM refund_requests
WHERE ticket_id=$1 AND status NOT IN ('rejected','cancelled')
ORDER BY created_at DESC LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", ticketID)
	if err != nil {
		return nil, err
	}
	return scanRefundRequest(row)
}

func (r *refundRequestRepo) CountNonRejectedByUser(ctx context.Context, tx repository.Tx, userID, eventID string) (int, error) {
	const q = `SELECT COUNT(*) FROM refund_requests WHERE user_id=$1 AND event_id=$2 AND status NOT IN ('rejected','cancelled');`
	row, err := pickRow(ctx, r.pool, tx, q, userID, eventID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *refundRequestRepo) ListByEventAndStatus(ctx context.Context, tx repository.Tx, eventID string, status model.RefundStatus) ([]*model.RefundRequest, error) {
	const q = `SELECT ` + refundRequestColumns + ` FROM refund_requests WHERE event_id=$1 AND status=$2 ORDER BY created_at;`
	rows, err := pickRows(ctx, r.pool, tx, q, eventID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRefundRequests(rows)
}

func (r *refundRequestRepo) ListStuckProcessing(ctx context.Context, tx repository.Tx) ([]*model.RefundRequest, error) {
	const q = `SELECT ` + refundRequestColumns + ` FROM refund_requests WHERE status='processing' ORDER BY created_at;`
	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRefundRequests(rows)
}

func scanRefundRequest(row pgx.Row) (*model.RefundRequest, error) {
	req := &model.RefundRequest{}
	var history []byte
	err := row.Scan(&req.ID, &req.TicketID, &req.EventID, &req.UserID, &req.Reason,
		&req.RequestedAmount, &req.ApprovedAmount, &req.ProcessingFee, &req.Currency,
		&req.PaymentMethod, &req.PaymentReference, &req.Status, &history,
		&req.FailureReason, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(history, &req.StatusHistory); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return req, nil
}

func scanRefundRequests(rows pgx.Rows) ([]*model.RefundRequest, error) {
	var out []*model.RefundRequest
	for rows.Next() {
		req, err := scanRefundRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
