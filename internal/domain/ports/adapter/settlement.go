package adapter

import (
	"context"
	"fmt"
	"time"
)

// SettlementRequest carries everything a rail needs to move money back to a
// payer. TransactionID doubles as the provider idempotency key so a resumed
// attempt cannot double-pay.
type SettlementRequest struct {
	TransactionID string
	Amount        int64 // minor units
	Currency      string
	// Destination is the rail-specific reference of the original charge: an
	// MSISDN token for mobile money, a charge reference for card, a wallet
	// id for wallet credits.
	Destination string
	Description string
}

// SettlementResult is the provider's acknowledgement of a settled refund.
type SettlementResult struct {
	ProviderReference string
	SettledAt         time.Time
}

// SettlementError is a typed provider failure. Retryable distinguishes
// transient declines (timeouts, provider maintenance) from permanent ones
// (destination closed). The gateway itself never retries; that decision is
// made one layer up so it shows in the audit trail.
type SettlementError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement failed (%s): %s", e.Code, e.Message)
}

// SettlementGateway is the hex port for refund settlement, one method per
// rail family. The refund machinery dispatches on the ticket's original
// payment method and treats all three rails as interchangeable black boxes.
type SettlementGateway interface {
	Name() string

	// TransferMobileMoney pushes funds back to a mobile-money account.
	TransferMobileMoney(ctx context.Context, req SettlementRequest) (SettlementResult, error)
	// RefundCard reverses (part of) the original card charge.
	RefundCard(ctx context.Context, req SettlementRequest) (SettlementResult, error)
	// CreditWallet credits the platform wallet of the payer.
	CreditWallet(ctx context.Context, req SettlementRequest) (SettlementResult, error)
}
