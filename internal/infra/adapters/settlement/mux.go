package settlement

import (
	"context"

	"ticketing-refund-core/internal/domain/ports/adapter"
)

// MobileMoneyRail is the slice of the settlement surface a mobile-money
// provider implements.
type MobileMoneyRail interface {
	Transfer(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error)
}

// CardRail reverses card charges.
type CardRail interface {
	Refund(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error)
}

// WalletRail credits platform wallets.
type WalletRail interface {
	Credit(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error)
}

var _ adapter.SettlementGateway = (*Mux)(nil)

// Mux composes one implementation per rail into the full settlement
// gateway. Each rail keeps its own provider, credentials and timeout.
type Mux struct {
	mobileMoney MobileMoneyRail
	card        CardRail
	wallet      WalletRail
}

func NewMux(mm MobileMoneyRail, card CardRail, wallet WalletRail) *Mux {
	return &Mux{mobileMoney: mm, card: card, wallet: wallet}
}

func (m *Mux) Name() string { return "settlement-mux" }

func (m *Mux) TransferMobileMoney(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return m.mobileMoney.Transfer(ctx, req)
}

func (m *Mux) RefundCard(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return m.card.Refund(ctx, req)
}

func (m *Mux) CreditWallet(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return m.wallet.Credit(ctx, req)
}
