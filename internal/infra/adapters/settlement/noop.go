package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ticketing-refund-core/internal/domain/ports/adapter"
)

var _ adapter.SettlementGateway = (*NoopGateway)(nil)

// NoopGateway acknowledges every settlement without moving money. Used in
// dev mode and in bulk-cancellation tests. FailEvery > 0 makes every Nth
// call fail with a retryable decline so failure paths can be exercised.
type NoopGateway struct {
	FailEvery int

	mu   sync.Mutex
	seq  int
	seen map[string]string
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{seen: make(map[string]string)}
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) TransferMobileMoney(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return g.settle(req)
}

func (g *NoopGateway) RefundCard(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return g.settle(req)
}

func (g *NoopGateway) CreditWallet(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return g.settle(req)
}

func (g *NoopGateway) settle(req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	// honour the idempotency key: a replayed transaction id returns the
	// reference minted the first time
	if ref, ok := g.seen[req.TransactionID]; ok {
		return adapter.SettlementResult{ProviderReference: ref, SettledAt: time.Now()}, nil
	}
	g.seq++
	if g.FailEvery > 0 && g.seq%g.FailEvery == 0 {
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: "sim_decline", Message: "simulated decline", Retryable: true}
	}
	ref := fmt.Sprintf("noop-%d", g.seq)
	g.seen[req.TransactionID] = ref
	return adapter.SettlementResult{ProviderReference: ref, SettledAt: time.Now()}, nil
}
