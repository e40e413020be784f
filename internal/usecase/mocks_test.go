//go:build !integration

// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/adapter"
	"ticketing-refund-core/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memTicketRepo is a small in-memory implementation used by unit tests.
type memTicketRepo struct {
	mu            sync.RWMutex
	store         map[string]*model.Ticket
	invalidateErr error // used by tests to simulate invalidation failures
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{store: make(map[string]*model.Ticket)}
}

func (m *memTicketRepo) put(t *model.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.store[t.ID] = &cp
}

func (m *memTicketRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTicketRepo) FindSoldByEvent(ctx context.Context, tx repository.Tx, eventID string) ([]*model.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Ticket
	for _, t := range m.store {
		if t.EventID == eventID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTicketRepo) InvalidateByEvent(ctx context.Context, tx repository.Tx, eventID string) (int, error) {
	if m.invalidateErr != nil {
		return 0, m.invalidateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.store {
		if t.EventID == eventID && t.Status == model.TicketStatusValid {
			t.Status = model.TicketStatusInvalidated
			n++
		}
	}
	return n, nil
}

func (m *memTicketRepo) MarkRefunded(ctx context.Context, tx repository.Tx, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[ticketID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = model.TicketStatusRefunded
	return nil
}

type memEventRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Event
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{store: make(map[string]*model.Event)}
}

func (m *memEventRepo) put(e *model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.store[e.ID] = &cp
}

func (m *memEventRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEventRepo) MarkCancelled(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status = model.EventStatusCancelled
	return nil
}

type memPolicyRepo struct {
	mu    sync.RWMutex
	store map[string]*model.RefundPolicy // key: eventID + "/" + ticketTypeID
}

func newMemPolicyRepo() *memPolicyRepo {
	return &memPolicyRepo{store: make(map[string]*model.RefundPolicy)}
}

func (m *memPolicyRepo) put(p *model.RefundPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.EventID+"/"+p.TicketTypeID] = &cp
}

func (m *memPolicyRepo) FindForTicket(ctx context.Context, tx repository.Tx, eventID, ticketTypeID string) (*model.RefundPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// ticket-type policy wins over the event-wide one
	if p, ok := m.store[eventID+"/"+ticketTypeID]; ok {
		cp := *p
		return &cp, nil
	}
	if p, ok := m.store[eventID+"/"]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// memRequestRepo enforces the same invariant as the partial unique index in
// Postgres: at most one request per ticket outside rejected/cancelled.
type memRequestRepo struct {
	mu      sync.Mutex
	store   map[string]*model.RefundRequest
	saveErr error
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{store: make(map[string]*model.RefundRequest)}
}

func copyRequest(r *model.RefundRequest) *model.RefundRequest {
	cp := *r
	cp.StatusHistory = append([]model.StatusTransition(nil), r.StatusHistory...)
	return &cp
}

func (m *memRequestRepo) Save(ctx context.Context, tx repository.Tx, req *model.RefundRequest) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.store[req.ID]; !exists {
		for _, other := range m.store {
			if other.TicketID == req.TicketID &&
				other.Status != model.RefundStatusRejected &&
				other.Status != model.RefundStatusCancelled {
				return domain.ErrActiveRefundExists
			}
		}
	}
	m.store[req.ID] = copyRequest(req)
	return nil
}

func (m *memRequestRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyRequest(r), nil
}

func (m *memRequestRepo) FindBlocking(ctx context.Context, tx repository.Tx, ticketID string) (*model.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.store {
		if r.TicketID == ticketID &&
			r.Status != model.RefundStatusRejected &&
			r.Status != model.RefundStatusCancelled {
			return copyRequest(r), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRequestRepo) CountNonRejectedByUser(ctx context.Context, tx repository.Tx, userID, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.store {
		if r.UserID == userID && r.EventID == eventID &&
			r.Status != model.RefundStatusRejected &&
			r.Status != model.RefundStatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *memRequestRepo) ListByEventAndStatus(ctx context.Context, tx repository.Tx, eventID string, status model.RefundStatus) ([]*model.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RefundRequest
	for _, r := range m.store {
		if r.EventID == eventID && r.Status == status {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRequestRepo) ListStuckProcessing(ctx context.Context, tx repository.Tx) ([]*model.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RefundRequest
	for _, r := range m.store {
		if r.Status == model.RefundStatusProcessing {
			out = append(out, copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRequestRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

type memTxnRepo struct {
	mu    sync.Mutex
	store map[string]*model.RefundTransaction
}

func newMemTxnRepo() *memTxnRepo {
	return &memTxnRepo{store: make(map[string]*model.RefundTransaction)}
}

func (m *memTxnRepo) Save(ctx context.Context, tx repository.Tx, txn *model.RefundTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *txn
	m.store[txn.ID] = &cp
	return nil
}

func (m *memTxnRepo) ListByRequest(ctx context.Context, tx repository.Tx, requestID string) ([]*model.RefundTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RefundTransaction
	for _, t := range m.store {
		if t.RefundRequestID == requestID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTxnRepo) FindLatestByRequest(ctx context.Context, tx repository.Tx, requestID string) (*model.RefundTransaction, error) {
	all, _ := m.ListByRequest(ctx, tx, requestID)
	if len(all) == 0 {
		return nil, domain.ErrNotFound
	}
	return all[len(all)-1], nil
}

type memCancellationRepo struct {
	mu    sync.Mutex
	store map[string]*model.EventCancellation
}

func newMemCancellationRepo() *memCancellationRepo {
	return &memCancellationRepo{store: make(map[string]*model.EventCancellation)}
}

func copyCancellation(c *model.EventCancellation) *model.EventCancellation {
	cp := *c
	cp.ProcessingErrors = append([]model.CancellationProcessingError(nil), c.ProcessingErrors...)
	return &cp
}

func (m *memCancellationRepo) Create(ctx context.Context, tx repository.Tx, c *model.EventCancellation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.store {
		if other.EventID == c.EventID && other.Status != model.CancellationStatusWithdrawn {
			return domain.ErrCancellationExists
		}
	}
	m.store[c.ID] = copyCancellation(c)
	return nil
}

func (m *memCancellationRepo) Save(ctx context.Context, tx repository.Tx, c *model.EventCancellation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[c.ID] = copyCancellation(c)
	return nil
}

func (m *memCancellationRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.EventCancellation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyCancellation(c), nil
}

func (m *memCancellationRepo) FindLiveByEvent(ctx context.Context, tx repository.Tx, eventID string) (*model.EventCancellation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.store {
		if c.EventID == eventID && c.Status != model.CancellationStatusWithdrawn {
			return copyCancellation(c), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCancellationRepo) ListProcessing(ctx context.Context, tx repository.Tx) ([]*model.EventCancellation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.EventCancellation
	for _, c := range m.store {
		if c.Status == model.CancellationStatusProcessing {
			out = append(out, copyCancellation(c))
		}
	}
	return out, nil
}

// mockGateway records every settlement call and answers with the scripted
// funcs, or a sequential provider reference by default.
type mockGateway struct {
	mu    sync.Mutex
	calls []adapter.SettlementRequest

	TransferFunc func(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error)
	RefundFunc   func(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error)
	CreditFunc   func(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error)

	// FailEvery > 0 fails every Nth call with a retryable decline, counted
	// across all rails. Scripted funcs take precedence.
	FailEvery int
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) record(req adapter.SettlementRequest) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	return len(g.calls)
}

func (g *mockGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *mockGateway) lastCall() adapter.SettlementRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

func (g *mockGateway) settle(ctx context.Context, req adapter.SettlementRequest, scripted func(context.Context, adapter.SettlementRequest) (adapter.SettlementResult, error)) (adapter.SettlementResult, error) {
	n := g.record(req)
	if scripted != nil {
		return scripted(ctx, req)
	}
	if g.FailEvery > 0 && n%g.FailEvery == 0 {
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: "test_decline", Message: "scripted decline", Retryable: true}
	}
	return adapter.SettlementResult{ProviderReference: fmt.Sprintf("prov-%d", n), SettledAt: time.Now()}, nil
}

func (g *mockGateway) TransferMobileMoney(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return g.settle(ctx, req, g.TransferFunc)
}

func (g *mockGateway) RefundCard(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return g.settle(ctx, req, g.RefundFunc)
}

func (g *mockGateway) CreditWallet(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
	return g.settle(ctx, req, g.CreditFunc)
}

// memLocker is an in-process substitute for the Redis locker.
type memLocker struct {
	mu   sync.Mutex
	held map[string]string
	seq  int
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockNotAcquired
	}
	l.seq++
	token := fmt.Sprintf("tok-%d", l.seq)
	l.held[key] = token
	return token, nil
}

func (l *memLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// mockTxManager runs the callback directly; the mem repos enforce their own
// invariants, so there is nothing to roll back.
type mockTxManager struct{}

func (mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

// mockSender is a scriptable notification sender.
type mockSender struct {
	mu       sync.Mutex
	sent     []string // user ids
	SendFunc func(ctx context.Context, userID, subject, body string) error
}

func (s *mockSender) Send(ctx context.Context, userID, subject, body string) error {
	if s.SendFunc != nil {
		if err := s.SendFunc(ctx, userID, subject, body); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, userID)
	return nil
}

func (s *mockSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
