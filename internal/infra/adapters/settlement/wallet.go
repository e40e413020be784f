package settlement

import (
	"context"
	"time"

	"ticketing-refund-core/internal/domain/ports/adapter"
	"ticketing-refund-core/internal/domain/ports/repository"
)

// WalletGateway settles refunds by crediting the payer's platform wallet.
// There is no external provider to call; the ledger insert is the
// settlement, and its unique transaction id makes replays no-ops.
type WalletGateway struct {
	ledger repository.WalletRepository
}

func NewWalletGateway(ledger repository.WalletRepository) *WalletGateway {
	return &WalletGateway{ledger: ledger}
}

func (g *WalletGateway) Name() string { return "wallet" }

// Credit appends a ledger entry for the payer identified by Destination.
func (g *WalletGateway) Credit(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	entryID, err := g.ledger.Credit(ctx, repository.NoTX, req.Destination, req.TransactionID, req.Amount, req.Currency)
	if err != nil {
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: "ledger_write", Message: err.Error(), Retryable: true}
	}
	return adapter.SettlementResult{ProviderReference: entryID, SettledAt: time.Now()}, nil
}
