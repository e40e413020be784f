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

var _ repository.RefundTransactionRepository = (*refundTransactionRepo)(nil)

type refundTransactionRepo struct{ pool *pgxpool.Pool }

func NewRefundTransactionRepo(pool *pgxpool.Pool) *refundTransactionRepo {
	return &refundTransactionRepo{pool: pool}
}

const refundTxnColumns = `id, refund_request_id, ticket_id, event_id, original_amount, refund_amount, processing_fee, net_refund, currency, payment_method, provider_reference, status, failure_reason, initiated_at, processed_at, completed_at, failed_at`

func (r *refundTransactionRepo) Save(ctx context.Context, tx repository.Tx, txn *model.RefundTransaction) error {
	// Amount columns are insert-only: a settlement attempt's financials are
	// immutable, only status and timestamps advance.
	const q = `
INSERT INTO refund_transactions (
  id, refund_request_id, ticket_id, event_id, original_amount, refund_amount, processing_fee, net_refund, currency, payment_method, provider_reference, status, failure_reason, initiated_at, processed_at, completed_at, failed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
) ON CONFLICT (id) DO UPDATE SET
  provider_reference=$11, status=$12, failure_reason=$13, processed_at=$15, completed_at=$16, failed_at=$17;`

	_, err := execSQL(ctx, r.pool, tx, q,
		txn.ID, txn.RefundRequestID, txn.TicketID, txn.EventID,
		txn.OriginalAmount, txn.RefundAmount, txn.ProcessingFee, txn.NetRefund,
		txn.Currency, txn.PaymentMethod, txn.ProviderReference, txn.Status,
		txn.FailureReason, txn.InitiatedAt, txn.ProcessedAt, txn.CompletedAt, txn.FailedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *refundTransactionRepo) ListByRequest(ctx context.Context, tx repository.Tx, requestID string) ([]*model.RefundTransaction, error) {
	const q = `SELECT ` + refundTxnColumns + ` FROM refund_transactions WHERE refund_request_id=$1 ORDER BY id;`
	rows, err := pickRows(ctx, r.pool, tx, q, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RefundTransaction
	for rows.Next() {
		txn, err := scanRefundTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (r *refundTransactionRepo) FindLatestByRequest(ctx context.Context, tx repository.Tx, requestID string) (*model.RefundTransaction, error) {
	// ULIDs sort chronologically, so max(id) is the latest attempt.
	const q = `SELECT ` + refundTxnColumns + ` FROM refund_transactions WHERE refund_request_id=$1 ORDER BY id DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, requestID)
	if err != nil {
		return nil, err
	}
	return scanRefundTransaction(row)
}

func scanRefundTransaction(row pgx.Row) (*model.RefundTransaction, error) {
	txn := &model.RefundTransaction{}
	err := row.Scan(&txn.ID, &txn.RefundRequestID, &txn.TicketID, &txn.EventID,
		&txn.OriginalAmount, &txn.RefundAmount, &txn.ProcessingFee, &txn.NetRefund,
		&txn.Currency, &txn.PaymentMethod, &txn.ProviderReference, &txn.Status,
		&txn.FailureReason, &txn.InitiatedAt, &txn.ProcessedAt, &txn.CompletedAt, &txn.FailedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return txn, nil
}
