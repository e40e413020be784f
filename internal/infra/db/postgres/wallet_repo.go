package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/ports/repository"
)

var _ repository.WalletRepository = (*walletRepo)(nil)

type walletRepo struct{ pool *pgxpool.Pool }

func NewWalletRepo(pool *pgxpool.Pool) *walletRepo {
	return &walletRepo{pool: pool}
}

// Credit appends a wallet ledger row keyed by the settlement transaction id.
// A replayed settlement hits the unique constraint and returns the existing
// entry instead of crediting twice.
func (r *walletRepo) Credit(ctx context.Context, tx repository.Tx, walletID, transactionID string, amount int64, currency string) (string, error) {
	const q = `
INSERT INTO wallet_ledger (id, wallet_id, transaction_id, amount, currency)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (transaction_id) DO NOTHING;`
	id := uuid.NewString()
	if _, err := execSQL(ctx, r.pool, tx, q, id, walletID, transactionID, amount, currency); err != nil {
		return "", domain.ErrOperationFailed
	}

	const lookup = `SELECT id FROM wallet_ledger WHERE transaction_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, lookup, transactionID)
	if err != nil {
		return "", err
	}
	var existing string
	if err := row.Scan(&existing); err != nil {
		return "", domain.ErrReadDatabaseRow
	}
	return existing, nil
}
