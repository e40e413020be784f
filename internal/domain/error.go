package domain

import "errors"

var (
	// Structural errors: the caller referenced something that does not exist
	// or tried to create something that already does.
	ErrNotFound              = errors.New("entity not found")
	ErrAlreadyExists         = errors.New("entity already exists")
	ErrCancellationExists    = errors.New("event already has a cancellation record")
	ErrActiveRefundExists    = errors.New("ticket already has an active refund request")
	ErrTicketAlreadyRefunded = errors.New("ticket has already been refunded")
	ErrRefundLimitReached    = errors.New("user reached the refund limit for this event")

	// Validation errors: rejected synchronously, never mutate state.
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidAmount        = errors.New("approved amount must be positive and not exceed the requested amount")
	ErrConfirmationMismatch = errors.New("confirmation phrase does not match")
	ErrNoteRequired         = errors.New("a note is required")
	ErrNotRetryable         = errors.New("refund request is not retryable")
	ErrNotEligible          = errors.New("ticket is not eligible for a refund")
	ErrIrreversible         = errors.New("cancellation is no longer reversible")

	// Settlement errors: recoverable; the request moves to failed and stays retry-eligible.
	ErrSettlementDeclined = errors.New("settlement declined by provider")
	ErrUnknownRail        = errors.New("no settlement gateway registered for payment method")

	// Infrastructure errors surfaced by repositories and locks.
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid transaction execution context")
	ErrLockNotAcquired    = errors.New("could not acquire lock")
)
