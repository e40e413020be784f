package repository

import (
	"context"

	"ticketing-refund-core/internal/domain/model"
)

// RefundRequestRepository persists refund requests together with their
// append-only status history.
type RefundRequestRepository interface {
	// Save upserts the request and appends any new status history entries.
	// Inserting a second non-final request for the same ticket must fail
	// atomically with domain.ErrActiveRefundExists (partial unique index,
	// not check-then-write).
	Save(ctx context.Context, tx Tx, req *model.RefundRequest) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.RefundRequest, error)
	// FindBlocking returns the request that blocks a new submission for the
	// ticket: any non-final request, or a completed one. domain.ErrNotFound
	// means the ticket is free to submit.
	FindBlocking(ctx context.Context, tx Tx, ticketID string) (*model.RefundRequest, error)
	// CountNonRejectedByUser counts a user's requests for an event that were
	// not rejected or cancelled, for maxRefundsPerUser enforcement.
	CountNonRejectedByUser(ctx context.Context, tx Tx, userID, eventID string) (int, error)
	// ListByEventAndStatus feeds the cancellation retry pass.
	ListByEventAndStatus(ctx context.Context, tx Tx, eventID string, status model.RefundStatus) ([]*model.RefundRequest, error)
	// ListStuckProcessing returns requests left in processing, for crash
	// recovery: the caller decides per latest transaction whether to finish
	// or re-settle.
	ListStuckProcessing(ctx context.Context, tx Tx) ([]*model.RefundRequest, error)
}

// RefundTransactionRepository is the append-only settlement ledger.
type RefundTransactionRepository interface {
	// Save inserts a new attempt or updates the status/timestamp columns of
	// an existing one. Terminal rows are never rewritten.
	Save(ctx context.Context, tx Tx, txn *model.RefundTransaction) error
	// ListByRequest returns all attempts for a request, oldest first (ULID
	// order).
	ListByRequest(ctx context.Context, tx Tx, requestID string) ([]*model.RefundTransaction, error)
	// FindLatestByRequest returns the most recent attempt or ErrNotFound.
	FindLatestByRequest(ctx context.Context, tx Tx, requestID string) (*model.RefundTransaction, error)
}

// WalletRepository backs the wallet settlement rail: credits are ledger rows
// keyed by settlement transaction id, so a replayed settlement is a no-op.
type WalletRepository interface {
	// Credit appends a wallet ledger entry and returns its id. A second call
	// with the same transactionID returns the existing entry id.
	Credit(ctx context.Context, tx Tx, userWalletID, transactionID string, amount int64, currency string) (string, error)
}
