//go:build !integration

package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/adapter"
	"ticketing-refund-core/internal/domain/ports/repository"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// refundDeps holds all the mock dependencies for the refund use case tests.
type refundDeps struct {
	tickets  *memTicketRepo
	events   *memEventRepo
	policies *memPolicyRepo
	requests *memRequestRepo
	ledger   *memTxnRepo
	gateway  *mockGateway
	locker   *memLocker
}

func newRefundDeps() *refundDeps {
	return &refundDeps{
		tickets:  newMemTicketRepo(),
		events:   newMemEventRepo(),
		policies: newMemPolicyRepo(),
		requests: newMemRequestRepo(),
		ledger:   newMemTxnRepo(),
		gateway:  &mockGateway{},
		locker:   newMemLocker(),
	}
}

// uc builds a use case with a frozen clock so deadline math is deterministic.
func (d *refundDeps) uc(maxAutoApprove int64) *refundUC {
	uc := NewRefundUseCase(
		d.tickets, d.events, d.policies, d.requests, d.ledger,
		d.gateway, mockTxManager{}, d.locker, nil,
		maxAutoApprove, time.Second, newTestLogger(),
	)
	uc.now = func() time.Time { return testNow }
	return uc
}

func (d *refundDeps) seedEvent(id string, start time.Time, status model.EventStatus) {
	d.events.put(&model.Event{ID: id, Name: "Test Event", Status: status, StartDate: start, EndDate: start.Add(4 * time.Hour)})
}

func (d *refundDeps) seedTicket(id, eventID, userID string, price int64) *model.Ticket {
	t := &model.Ticket{
		ID:               id,
		EventID:          eventID,
		UserID:           userID,
		TicketTypeID:     "general",
		Price:            price,
		Currency:         "XOF",
		Status:           model.TicketStatusValid,
		ScanStatus:       model.ScanStatusUnused,
		PaymentMethod:    model.PaymentMethodMobileMoney,
		PaymentReference: "msisdn-" + userID,
		PurchasedAt:      testNow.Add(-30 * 24 * time.Hour),
	}
	d.tickets.put(t)
	return t
}

func TestRefundUseCase_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("manual reason lands in pending without settling", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		uc := deps.uc(0)

		req, err := uc.Submit(ctx, "tk-1", model.RefundReasonUnableToAttend, "user-1", "cannot make it")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if req.Status != model.RefundStatusPending {
			t.Errorf("expected pending, got %s", req.Status)
		}
		if got := len(req.StatusHistory); got != 1 {
			t.Errorf("expected 1 history entry, got %d", got)
		}
		if deps.gateway.callCount() != 0 {
			t.Errorf("gateway must not be called for a pending request")
		}
	})

	t.Run("auto-approved reason settles end to end", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		uc := deps.uc(0)

		req, err := uc.Submit(ctx, "tk-1", model.RefundReasonDuplicatePurchase, "user-1", "")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if req.Status != model.RefundStatusCompleted {
			t.Fatalf("expected completed, got %s", req.Status)
		}
		// creation(approved) -> processing -> completed
		if got := len(req.StatusHistory); got != 3 {
			t.Errorf("expected 3 history entries, got %d", got)
		}
		if deps.gateway.callCount() != 1 {
			t.Fatalf("expected exactly one settlement call, got %d", deps.gateway.callCount())
		}
		// 100h before start: 100% tier, 5% fee withheld
		if call := deps.gateway.lastCall(); call.Amount != 95_000 {
			t.Errorf("expected net 95000 on the wire, got %d", call.Amount)
		}
		ticket, _ := deps.tickets.FindByID(ctx, repository.NoTX, "tk-1")
		if ticket.Status != model.TicketStatusRefunded {
			t.Errorf("expected ticket refunded, got %s", ticket.Status)
		}
		txns, _ := deps.ledger.ListByRequest(ctx, repository.NoTX, req.ID)
		if len(txns) != 1 || txns[0].Status != model.TransactionStatusCompleted {
			t.Errorf("expected one completed transaction, got %+v", txns)
		}
	})

	t.Run("cancelled event waives the fee", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(10*time.Hour), model.EventStatusCancelled)
		deps.seedTicket("tk-1", "ev-1", "user-1", 80_000)
		uc := deps.uc(0)

		req, err := uc.Submit(ctx, "tk-1", model.RefundReasonEventCancelled, "user-1", "")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if req.Status != model.RefundStatusCompleted {
			t.Fatalf("expected completed, got %s", req.Status)
		}
		if call := deps.gateway.lastCall(); call.Amount != 80_000 {
			t.Errorf("expected full 80000 with fee waived, got %d", call.Amount)
		}
	})

	t.Run("scanned ticket is rejected as ineligible", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		tk := deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		tk.ScanStatus = model.ScanStatusScanned
		deps.tickets.put(tk)
		uc := deps.uc(0)

		_, err := uc.Submit(ctx, "tk-1", model.RefundReasonChangedMind, "user-1", "")
		if !errors.Is(err, domain.ErrNotEligible) {
			t.Fatalf("expected ErrNotEligible, got %v", err)
		}
		if !strings.Contains(err.Error(), "already used") {
			t.Errorf("expected the reason in the error, got %q", err.Error())
		}
	})

	t.Run("second submit while a request is open", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		uc := deps.uc(0)

		if _, err := uc.Submit(ctx, "tk-1", model.RefundReasonUnableToAttend, "user-1", "x"); err != nil {
			t.Fatalf("first submit: %v", err)
		}
		_, err := uc.Submit(ctx, "tk-1", model.RefundReasonUnableToAttend, "user-1", "x")
		if !errors.Is(err, domain.ErrActiveRefundExists) {
			t.Fatalf("expected ErrActiveRefundExists, got %v", err)
		}
	})

	t.Run("completed ticket can never be refunded again", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		uc := deps.uc(0)

		if _, err := uc.Submit(ctx, "tk-1", model.RefundReasonDuplicatePurchase, "user-1", ""); err != nil {
			t.Fatalf("first submit: %v", err)
		}
		_, err := uc.Submit(ctx, "tk-1", model.RefundReasonDuplicatePurchase, "user-1", "")
		if !errors.Is(err, domain.ErrTicketAlreadyRefunded) {
			t.Fatalf("expected ErrTicketAlreadyRefunded, got %v", err)
		}
	})

	t.Run("auto-approve cap routes large refunds to review", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		uc := deps.uc(50_000)

		req, err := uc.Submit(ctx, "tk-1", model.RefundReasonDuplicatePurchase, "user-1", "")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if req.Status != model.RefundStatusPending {
			t.Errorf("expected pending above the cap, got %s", req.Status)
		}
		if deps.gateway.callCount() != 0 {
			t.Errorf("gateway must not be called above the cap")
		}
	})

	t.Run("per-user refund limit", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		first := deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		deps.seedTicket("tk-2", "ev-1", "user-1", 100_000)
		deps.policies.put(&model.RefundPolicy{
			EventID:             "ev-1",
			IsRefundable:        true,
			RefundDeadlineHours: 48,
			RefundPercentage:    100,
			MaxRefundsPerUser:   1,
		})
		prior := model.NewRefundRequest(first, model.RefundReasonUnableToAttend, 100_000, 0, false, "user-1", "", testNow)
		if err := deps.requests.Save(ctx, repository.NoTX, prior); err != nil {
			t.Fatalf("seed prior request: %v", err)
		}
		uc := deps.uc(0)

		_, err := uc.Submit(ctx, "tk-2", model.RefundReasonUnableToAttend, "user-1", "")
		if !errors.Is(err, domain.ErrRefundLimitReached) {
			t.Fatalf("expected ErrRefundLimitReached, got %v", err)
		}
	})
}

func TestRefundUseCase_ConcurrentSubmit(t *testing.T) {
	ctx := context.Background()
	deps := newRefundDeps()
	deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
	deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
	uc := deps.uc(0)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Submit(ctx, "tk-1", model.RefundReasonUnableToAttend, "user-1", "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrActiveRefundExists):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly 1 created request, got %d", created)
	}
	if rejected != attempts-1 {
		t.Errorf("expected %d rejections, got %d", attempts-1, rejected)
	}
	if n := deps.requests.count(); n != 1 {
		t.Errorf("expected 1 stored request, got %d", n)
	}
}

func TestRefundUseCase_ApproveRejectCancel(t *testing.T) {
	ctx := context.Background()

	submitPending := func(t *testing.T, deps *refundDeps, uc *refundUC) *model.RefundRequest {
		t.Helper()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		req, err := uc.Submit(ctx, "tk-1", model.RefundReasonUnableToAttend, "user-1", "")
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		return req
	}

	t.Run("approve with zero amount means full", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req := submitPending(t, deps, uc)

		got, err := uc.Approve(ctx, req.ID, 0, "ops-1", "looks fine")
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if got.Status != model.RefundStatusCompleted {
			t.Fatalf("expected completed, got %s", got.Status)
		}
		if got.ApprovedAmount != req.RequestedAmount {
			t.Errorf("expected full approval %d, got %d", req.RequestedAmount, got.ApprovedAmount)
		}
		// create -> approved -> processing -> completed
		if len(got.StatusHistory) != 4 {
			t.Errorf("expected 4 history entries, got %d", len(got.StatusHistory))
		}
	})

	t.Run("approve above the requested amount", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req := submitPending(t, deps, uc)

		_, err := uc.Approve(ctx, req.ID, req.RequestedAmount+1, "ops-1", "")
		if !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("reject requires a note", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req := submitPending(t, deps, uc)

		if _, err := uc.Reject(ctx, req.ID, "ops-1", ""); !errors.Is(err, domain.ErrNoteRequired) {
			t.Fatalf("expected ErrNoteRequired, got %v", err)
		}
		got, err := uc.Reject(ctx, req.ID, "ops-1", "outside policy")
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		if got.Status != model.RefundStatusRejected {
			t.Errorf("expected rejected, got %s", got.Status)
		}
		if deps.gateway.callCount() != 0 {
			t.Errorf("gateway must not be called on rejection")
		}
	})

	t.Run("requester cancels a pending request", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req := submitPending(t, deps, uc)

		got, err := uc.Cancel(ctx, req.ID, "user-1")
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if got.Status != model.RefundStatusCancelled {
			t.Errorf("expected cancelled, got %s", got.Status)
		}
	})

	t.Run("terminal requests refuse further transitions", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req := submitPending(t, deps, uc)

		if _, err := uc.Approve(ctx, req.ID, 0, "ops-1", ""); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if _, err := uc.Reject(ctx, req.ID, "ops-1", "too late"); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestRefundUseCase_FailureAndRetry(t *testing.T) {
	ctx := context.Background()
	deps := newRefundDeps()
	deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
	deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
	deps.gateway.TransferFunc = func(ctx context.Context, req adapter.SettlementRequest) (adapter.SettlementResult, error) {
		return adapter.SettlementResult{}, &adapter.SettlementError{Code: "insufficient_float", Message: "provider out of funds", Retryable: true}
	}
	uc := deps.uc(0)

	req, err := uc.Submit(ctx, "tk-1", model.RefundReasonDuplicatePurchase, "user-1", "")
	if !errors.Is(err, domain.ErrSettlementDeclined) {
		t.Fatalf("expected ErrSettlementDeclined, got %v", err)
	}
	if req.Status != model.RefundStatusFailed {
		t.Fatalf("expected failed, got %s", req.Status)
	}
	if req.FailureReason == "" {
		t.Error("expected the provider reason to be recorded")
	}

	// retrying anything other than failed is rejected
	if _, err := uc.Retry(ctx, "no-such-request", "ops-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	deps.gateway.TransferFunc = nil
	got, err := uc.Retry(ctx, req.ID, "ops-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != model.RefundStatusCompleted {
		t.Fatalf("expected completed after retry, got %s", got.Status)
	}

	// the failed attempt is retained untouched next to the successful one
	txns, _ := deps.ledger.ListByRequest(ctx, repository.NoTX, req.ID)
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if txns[0].Status != model.TransactionStatusFailed || txns[0].FailureReason == "" {
		t.Errorf("expected first attempt failed with reason, got %+v", txns[0])
	}
	if txns[1].Status != model.TransactionStatusCompleted {
		t.Errorf("expected second attempt completed, got %+v", txns[1])
	}

	if _, err := uc.Retry(ctx, req.ID, "ops-1"); !errors.Is(err, domain.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable on a completed request, got %v", err)
	}
}

func TestRefundUseCase_ResumeStalled(t *testing.T) {
	ctx := context.Background()

	// seedStuck stores a request stuck in processing, optionally with a
	// transaction in the given state.
	seedStuck := func(t *testing.T, deps *refundDeps, withTxn bool, txnStatus model.TransactionStatus) (*model.RefundRequest, *model.RefundTransaction) {
		t.Helper()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusScheduled)
		ticket := deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		req := model.NewRefundRequest(ticket, model.RefundReasonDuplicatePurchase, 100_000, 0, true, "user-1", "", testNow)
		if err := req.Transition(model.RefundStatusProcessing, "", "", testNow); err != nil {
			t.Fatalf("seed transition: %v", err)
		}
		if err := deps.requests.Save(ctx, repository.NoTX, req); err != nil {
			t.Fatalf("seed request: %v", err)
		}
		if !withTxn {
			return req, nil
		}
		txn := model.NewRefundTransaction(req, 100_000, 100_000, 0, testNow)
		switch txnStatus {
		case model.TransactionStatusProcessing:
			txn.MarkProcessing(testNow)
		case model.TransactionStatusCompleted:
			txn.MarkProcessing(testNow)
			txn.MarkCompleted("prov-recovered", testNow)
		}
		if err := deps.ledger.Save(ctx, repository.NoTX, txn); err != nil {
			t.Fatalf("seed transaction: %v", err)
		}
		return req, txn
	}

	t.Run("in-flight attempt is re-dispatched under the same id", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req, txn := seedStuck(t, deps, true, model.TransactionStatusProcessing)

		n, err := uc.ResumeStalled(ctx)
		if err != nil {
			t.Fatalf("resume: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 resumed, got %d", n)
		}
		if deps.gateway.callCount() != 1 {
			t.Fatalf("expected one settlement call, got %d", deps.gateway.callCount())
		}
		if call := deps.gateway.lastCall(); call.TransactionID != txn.ID {
			t.Errorf("expected replay under transaction %s, got %s", txn.ID, call.TransactionID)
		}
		got, _ := deps.requests.FindByID(ctx, repository.NoTX, req.ID)
		if got.Status != model.RefundStatusCompleted {
			t.Errorf("expected completed, got %s", got.Status)
		}
	})

	t.Run("settled attempt finishes bookkeeping without touching the provider", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req, _ := seedStuck(t, deps, true, model.TransactionStatusCompleted)

		if _, err := uc.ResumeStalled(ctx); err != nil {
			t.Fatalf("resume: %v", err)
		}
		if deps.gateway.callCount() != 0 {
			t.Fatalf("provider must not be called again, got %d calls", deps.gateway.callCount())
		}
		got, _ := deps.requests.FindByID(ctx, repository.NoTX, req.ID)
		if got.Status != model.RefundStatusCompleted {
			t.Errorf("expected completed, got %s", got.Status)
		}
		ticket, _ := deps.tickets.FindByID(ctx, repository.NoTX, "tk-1")
		if ticket.Status != model.TicketStatusRefunded {
			t.Errorf("expected ticket refunded, got %s", ticket.Status)
		}
	})

	t.Run("processing with no attempt at all fails into retryable", func(t *testing.T) {
		deps := newRefundDeps()
		uc := deps.uc(0)
		req, _ := seedStuck(t, deps, false, "")

		if _, err := uc.ResumeStalled(ctx); err != nil {
			t.Fatalf("resume: %v", err)
		}
		got, _ := deps.requests.FindByID(ctx, repository.NoTX, req.ID)
		if got.Status != model.RefundStatusFailed {
			t.Fatalf("expected failed, got %s", got.Status)
		}
		if !strings.Contains(got.FailureReason, "interrupted before settlement") {
			t.Errorf("unexpected failure reason %q", got.FailureReason)
		}
	})
}

func TestRefundUseCase_SubmitForCancellation(t *testing.T) {
	ctx := context.Background()
	fullRefund := model.CompensationPlan{Type: model.CompensationFullRefund, Percentage: 100, FeeHandling: model.FeeWaived, Automatic: true}

	t.Run("settles an unused ticket under the plan", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusCancelled)
		ticket := deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		uc := deps.uc(0)

		req, err := uc.SubmitForCancellation(ctx, ticket, fullRefund, "org-1")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if req.Status != model.RefundStatusCompleted {
			t.Fatalf("expected completed, got %s", req.Status)
		}
		if deps.gateway.callCount() != 1 || deps.gateway.lastCall().Amount != 100_000 {
			t.Errorf("unexpected settlement: %d calls", deps.gateway.callCount())
		}
	})

	t.Run("rejects a used ticket", func(t *testing.T) {
		deps := newRefundDeps()
		deps.seedEvent("ev-1", testNow.Add(100*time.Hour), model.EventStatusCancelled)
		ticket := deps.seedTicket("tk-1", "ev-1", "user-1", 100_000)
		ticket.ScanStatus = model.ScanStatusScanned
		deps.tickets.put(ticket)
		uc := deps.uc(0)

		_, err := uc.SubmitForCancellation(ctx, ticket, fullRefund, "org-1")
		if !errors.Is(err, domain.ErrNotEligible) {
			t.Fatalf("expected ErrNotEligible, got %v", err)
		}
		if deps.gateway.callCount() != 0 {
			t.Errorf("expected no settlement, got %d calls", deps.gateway.callCount())
		}
		if deps.requests.count() != 0 {
			t.Errorf("expected no stored request, got %d", deps.requests.count())
		}
	})
}
