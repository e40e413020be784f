package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/adapter"
	"ticketing-refund-core/internal/domain/ports/repository"
	"ticketing-refund-core/internal/infra/bus"
	"ticketing-refund-core/internal/infra/logging"
	"ticketing-refund-core/internal/infra/metrics"
	"ticketing-refund-core/internal/infra/redis"
)

// Compile-time check
var _ RefundUseCase = (*refundUC)(nil)

// RefundUseCase owns the lifecycle of a single refund request from
// submission to settlement. Every transition appends exactly one audit
// entry; transitions for one request are serialized behind a keyed lock.
type RefundUseCase interface {
	// Submit creates a request for the ticket. Auto-approved reasons are
	// processed immediately; everything else waits in pending.
	Submit(ctx context.Context, ticketID string, reason model.RefundReason, actor, note string) (*model.RefundRequest, error)
	// SubmitForCancellation creates and settles a refund under a
	// cancellation's compensation plan instead of the event policy.
	SubmitForCancellation(ctx context.Context, ticket *model.Ticket, plan model.CompensationPlan, actor string) (*model.RefundRequest, error)
	// Approve moves pending to approved and settles. amount 0 means the full
	// requested amount; a reduced amount must stay within (0, requested].
	Approve(ctx context.Context, requestID string, amount int64, actor, note string) (*model.RefundRequest, error)
	// Reject is the operator's terminal no. A note is required.
	Reject(ctx context.Context, requestID, actor, note string) (*model.RefundRequest, error)
	// Cancel is the requester withdrawing a pending request. Terminal.
	Cancel(ctx context.Context, requestID, actor string) (*model.RefundRequest, error)
	// Retry re-settles a failed request with a fresh transaction. The failed
	// transaction is retained untouched.
	Retry(ctx context.Context, requestID, actor string) (*model.RefundRequest, error)
	// Get returns the request with its full audit trail.
	Get(ctx context.Context, requestID string) (*model.RefundRequest, error)
	// ResumeStalled finishes requests left in processing by a crash, using
	// the latest transaction to decide between completing, failing and
	// re-dispatching under the same idempotency key. Returns how many
	// requests were resumed.
	ResumeStalled(ctx context.Context) (int, error)
}

type refundUC struct {
	tickets  repository.TicketRepository
	events   repository.EventRepository
	policies repository.RefundPolicyRepository
	requests repository.RefundRequestRepository
	ledger   repository.RefundTransactionRepository
	gateway  adapter.SettlementGateway
	tm       repository.TransactionManager
	locker   redis.Locker
	streams  *bus.Bus

	maxAutoApprove int64
	lockTTL        time.Duration
	now            func() time.Time
	log            *zerolog.Logger
}

func NewRefundUseCase(
	tickets repository.TicketRepository,
	events repository.EventRepository,
	policies repository.RefundPolicyRepository,
	requests repository.RefundRequestRepository,
	ledger repository.RefundTransactionRepository,
	gateway adapter.SettlementGateway,
	tm repository.TransactionManager,
	locker redis.Locker,
	streams *bus.Bus,
	maxAutoApprove int64,
	lockTTL time.Duration,
	logger *zerolog.Logger,
) *refundUC {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &refundUC{
		tickets:        tickets,
		events:         events,
		policies:       policies,
		requests:       requests,
		ledger:         ledger,
		gateway:        gateway,
		tm:             tm,
		locker:         locker,
		streams:        streams,
		maxAutoApprove: maxAutoApprove,
		lockTTL:        lockTTL,
		now:            time.Now,
		log:            logger,
	}
}

func (u *refundUC) Submit(ctx context.Context, ticketID string, reason model.RefundReason, actor, note string) (*model.RefundRequest, error) {
	ticket, err := u.tickets.FindByID(ctx, repository.NoTX, ticketID)
	if err != nil {
		return nil, fmt.Errorf("submit refund: %w", err)
	}
	event, err := u.events.FindByID(ctx, repository.NoTX, ticket.EventID)
	if err != nil {
		return nil, fmt.Errorf("submit refund: %w", err)
	}
	policy, err := resolvePolicy(ctx, u.policies, repository.NoTX, ticket)
	if err != nil {
		return nil, fmt.Errorf("submit refund: %w", err)
	}

	var req *model.RefundRequest
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// The uniqueness guard is the partial unique index behind Save; the
		// lookup here is for a precise error, not a check-then-write.
		if blocking, err := u.requests.FindBlocking(ctx, tx, ticket.ID); err == nil {
			if blocking.Status == model.RefundStatusCompleted {
				return domain.ErrTicketAlreadyRefunded
			}
			return domain.ErrActiveRefundExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		res := model.EvaluateEligibility(ticket, event, policy, false, u.now())
		if !res.IsEligible {
			return fmt.Errorf("%w: %s", domain.ErrNotEligible, res.Reason)
		}

		if res.Policy.MaxRefundsPerUser > 0 {
			n, err := u.requests.CountNonRejectedByUser(ctx, tx, ticket.UserID, ticket.EventID)
			if err != nil {
				return err
			}
			if n >= res.Policy.MaxRefundsPerUser {
				return domain.ErrRefundLimitReached
			}
		}

		auto := reason.AutoApproved() && (u.maxAutoApprove == 0 || res.RefundAmount <= u.maxAutoApprove)
		fee := res.ProcessingFee
		if res.FeeWaived {
			fee = 0
		}
		req = model.NewRefundRequest(ticket, reason, res.RefundAmount, fee, auto, actor, note, u.now())
		return u.requests.Save(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}

	u.publishStatus(req, "", req.Status, actor)
	u.log.Info().
		Str("refund_id", req.ID).
		Str("ticket_id", req.TicketID).
		Str("reason", string(req.Reason)).
		Str("status", string(req.Status)).
		Int64("amount", req.RequestedAmount).
		Msg("refund request submitted")

	if req.Status == model.RefundStatusApproved {
		return u.settleLocked(ctx, req.ID, actor)
	}
	return req, nil
}

func (u *refundUC) SubmitForCancellation(ctx context.Context, ticket *model.Ticket, plan model.CompensationPlan, actor string) (*model.RefundRequest, error) {
	// A used ticket is never compensated, not even for a cancelled event.
	if ticket.ScanStatus == model.ScanStatusScanned {
		return nil, fmt.Errorf("%w: ticket already used", domain.ErrNotEligible)
	}
	if plan.Type == model.CompensationCredit {
		// Credit plans settle onto the platform wallet regardless of the
		// original rail.
		t := *ticket
		t.PaymentMethod = model.PaymentMethodWallet
		t.PaymentReference = ticket.UserID
		ticket = &t
	}
	amount := model.ApplyPercentage(ticket.Price, plan.Percentage)
	var fee int64
	if plan.FeeHandling == model.FeeDeducted {
		policy, err := resolvePolicy(ctx, u.policies, repository.NoTX, ticket)
		if err != nil {
			return nil, err
		}
		p := policy
		if p == nil {
			def := model.DefaultRefundPolicy()
			p = &def
		}
		fee = model.ApplyPercentage(amount, p.ProcessingFeePercentage)
	}

	var req *model.RefundRequest
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if blocking, err := u.requests.FindBlocking(ctx, tx, ticket.ID); err == nil {
			if blocking.Status == model.RefundStatusCompleted {
				return domain.ErrTicketAlreadyRefunded
			}
			return domain.ErrActiveRefundExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		// Cancellation refunds are always auto-approved; the operator's
		// explicit confirmation of the cancellation is the approval.
		req = model.NewRefundRequest(ticket, model.RefundReasonEventCancelled, amount, fee, true, actor, "event cancellation", u.now())
		return u.requests.Save(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}

	u.publishStatus(req, "", req.Status, actor)
	return u.settleLocked(ctx, req.ID, actor)
}

func (u *refundUC) Approve(ctx context.Context, requestID string, amount int64, actor, note string) (*model.RefundRequest, error) {
	unlock, err := u.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var req *model.RefundRequest
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		req, err = u.requests.FindByID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if amount == 0 {
			amount = req.RequestedAmount
		}
		if amount <= 0 || amount > req.RequestedAmount {
			return domain.ErrInvalidAmount
		}
		if err := req.Transition(model.RefundStatusApproved, actor, note, u.now()); err != nil {
			return err
		}
		req.ApprovedAmount = amount
		return u.requests.Save(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(model.RefundStatusPending), string(model.RefundStatusApproved))
	u.publishStatus(req, model.RefundStatusPending, model.RefundStatusApproved, actor)
	unlock()
	return u.settleLocked(ctx, requestID, actor)
}

func (u *refundUC) Reject(ctx context.Context, requestID, actor, note string) (*model.RefundRequest, error) {
	if note == "" {
		return nil, domain.ErrNoteRequired
	}
	return u.terminate(ctx, requestID, model.RefundStatusRejected, actor, note)
}

func (u *refundUC) Cancel(ctx context.Context, requestID, actor string) (*model.RefundRequest, error) {
	return u.terminate(ctx, requestID, model.RefundStatusCancelled, actor, "withdrawn by requester")
}

// terminate handles the two pending-only terminal edges, which share guards.
func (u *refundUC) terminate(ctx context.Context, requestID string, to model.RefundStatus, actor, note string) (*model.RefundRequest, error) {
	unlock, err := u.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var req *model.RefundRequest
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		req, err = u.requests.FindByID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := req.Transition(to, actor, note, u.now()); err != nil {
			return err
		}
		return u.requests.Save(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(model.RefundStatusPending), string(to))
	metrics.IncRefund(string(to))
	u.publishStatus(req, model.RefundStatusPending, to, actor)
	u.log.Info().Str("refund_id", req.ID).Str("status", string(to)).Str("actor", actor).Msg("refund request closed")
	return req, nil
}

func (u *refundUC) Retry(ctx context.Context, requestID, actor string) (*model.RefundRequest, error) {
	req, err := u.requests.FindByID(ctx, repository.NoTX, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.RefundStatusFailed {
		return nil, domain.ErrNotRetryable
	}
	return u.settleLocked(ctx, requestID, actor)
}

func (u *refundUC) Get(ctx context.Context, requestID string) (*model.RefundRequest, error) {
	return u.requests.FindByID(ctx, repository.NoTX, requestID)
}

// settleLocked runs one settlement attempt under the request's lock. Valid
// from approved (first attempt) and failed (retry); each attempt is a new
// ledger transaction.
func (u *refundUC) settleLocked(ctx context.Context, requestID, actor string) (*model.RefundRequest, error) {
	ctx = logging.WithRefundID(logging.WithActor(ctx, actor), requestID)
	defer logging.TraceDuration(logging.With(ctx, u.log), "refund.settle")()

	unlock, err := u.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		req *model.RefundRequest
		txn *model.RefundTransaction
	)
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		req, err = u.requests.FindByID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		from := req.Status
		if err := req.Transition(model.RefundStatusProcessing, actor, "", u.now()); err != nil {
			return err
		}
		ticket, err := u.tickets.FindByID(ctx, tx, req.TicketID)
		if err != nil {
			return err
		}
		txn = model.NewRefundTransaction(req, ticket.Price, req.ApprovedAmount, req.ProcessingFee, u.now())
		if err := u.ledger.Save(ctx, tx, txn); err != nil {
			return err
		}
		if err := u.requests.Save(ctx, tx, req); err != nil {
			return err
		}
		metrics.IncTransition(string(from), string(model.RefundStatusProcessing))
		u.publishStatus(req, from, model.RefundStatusProcessing, actor)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return u.dispatch(ctx, req, txn, actor)
}

// dispatch performs the gateway call outside any database transaction (it is
// the only blocking I/O in the lifecycle) and records the outcome.
func (u *refundUC) dispatch(ctx context.Context, req *model.RefundRequest, txn *model.RefundTransaction, actor string) (*model.RefundRequest, error) {
	txn.MarkProcessing(u.now())

	sreq := adapter.SettlementRequest{
		TransactionID: txn.ID,
		Amount:        txn.NetRefund,
		Currency:      txn.Currency,
		Destination:   req.PaymentReference,
		Description:   fmt.Sprintf("refund for ticket %s", req.TicketID),
	}

	start := u.now()
	var res adapter.SettlementResult
	var callErr error
	switch req.PaymentMethod {
	case model.PaymentMethodMobileMoney:
		res, callErr = u.gateway.TransferMobileMoney(ctx, sreq)
	case model.PaymentMethodCard:
		res, callErr = u.gateway.RefundCard(ctx, sreq)
	case model.PaymentMethodWallet:
		res, callErr = u.gateway.CreditWallet(ctx, sreq)
	default:
		callErr = fmt.Errorf("%w: %s", domain.ErrUnknownRail, req.PaymentMethod)
	}
	elapsed := u.now().Sub(start)

	if callErr != nil {
		metrics.ObserveSettlement(string(req.PaymentMethod), "failed", elapsed)
		return u.recordFailure(ctx, req, txn, callErr, actor)
	}
	metrics.ObserveSettlement(string(req.PaymentMethod), "completed", elapsed)
	return u.recordSuccess(ctx, req, txn, res, actor)
}

func (u *refundUC) recordSuccess(ctx context.Context, req *model.RefundRequest, txn *model.RefundTransaction, res adapter.SettlementResult, actor string) (*model.RefundRequest, error) {
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if txn.Status != model.TransactionStatusCompleted {
			txn.MarkCompleted(res.ProviderReference, u.now())
		}
		if err := u.ledger.Save(ctx, tx, txn); err != nil {
			return err
		}
		if err := req.Transition(model.RefundStatusCompleted, actor, "", u.now()); err != nil {
			return err
		}
		if err := u.requests.Save(ctx, tx, req); err != nil {
			return err
		}
		return u.tickets.MarkRefunded(ctx, tx, req.TicketID)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(model.RefundStatusProcessing), string(model.RefundStatusCompleted))
	metrics.IncRefund(string(model.RefundStatusCompleted))
	metrics.AddRefundAmount(string(req.PaymentMethod), req.Currency, txn.NetRefund)
	u.publishStatus(req, model.RefundStatusProcessing, model.RefundStatusCompleted, actor)
	logging.With(ctx, u.log).Info().
		Str("transaction_id", txn.ID).
		Str("provider_ref", res.ProviderReference).
		Int64("net", txn.NetRefund).
		Msg("refund settled")
	return req, nil
}

func (u *refundUC) recordFailure(ctx context.Context, req *model.RefundRequest, txn *model.RefundTransaction, callErr error, actor string) (*model.RefundRequest, error) {
	reason := callErr.Error()
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if txn.Status != model.TransactionStatusFailed {
			txn.MarkFailed(reason, u.now())
		}
		if err := u.ledger.Save(ctx, tx, txn); err != nil {
			return err
		}
		if err := req.Transition(model.RefundStatusFailed, actor, reason, u.now()); err != nil {
			return err
		}
		req.FailureReason = reason
		return u.requests.Save(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(model.RefundStatusProcessing), string(model.RefundStatusFailed))
	metrics.IncRefund(string(model.RefundStatusFailed))
	u.publishStatus(req, model.RefundStatusProcessing, model.RefundStatusFailed, actor)
	logging.With(ctx, u.log).Warn().
		Str("transaction_id", txn.ID).
		Str("reason", reason).
		Msg("settlement failed")
	return req, fmt.Errorf("%w: %s", domain.ErrSettlementDeclined, reason)
}

func (u *refundUC) ResumeStalled(ctx context.Context) (int, error) {
	stuck, err := u.requests.ListStuckProcessing(ctx, repository.NoTX)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, req := range stuck {
		ctx := logging.WithRefundID(ctx, req.ID)
		latest, err := u.ledger.FindLatestByRequest(ctx, repository.NoTX, req.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return resumed, err
		}

		switch {
		case latest != nil && latest.Status == model.TransactionStatusCompleted:
			// The money moved but the crash hit before the request advanced.
			// Finish the bookkeeping; do not touch the provider again.
			if _, err := u.recordSuccess(ctx, req, latest, adapter.SettlementResult{ProviderReference: latest.ProviderReference}, "system"); err != nil {
				return resumed, err
			}
		case latest != nil && latest.Status == model.TransactionStatusFailed:
			if _, err := u.recordFailure(ctx, req, latest, errors.New(latest.FailureReason), "system"); err != nil && !errors.Is(err, domain.ErrSettlementDeclined) {
				return resumed, err
			}
		case latest != nil:
			// Non-terminal attempt: re-dispatch under the same transaction
			// id so the provider's idempotency prevents a double payment.
			if _, err := u.dispatch(ctx, req, latest, "system"); err != nil && !errors.Is(err, domain.ErrSettlementDeclined) {
				return resumed, err
			}
		default:
			// processing with no transaction at all: the crash hit between
			// the two writes. Fail the request so it becomes retryable.
			if _, err := u.recordFailure(ctx, req, model.NewRefundTransaction(req, req.RequestedAmount, req.ApprovedAmount, req.ProcessingFee, u.now()), errors.New("interrupted before settlement"), "system"); err != nil && !errors.Is(err, domain.ErrSettlementDeclined) {
				return resumed, err
			}
		}
		resumed++
	}
	return resumed, nil
}

func (u *refundUC) lock(ctx context.Context, requestID string) (func(), error) {
	key := "refund:lock:" + requestID
	token, err := u.locker.TryLock(ctx, key, u.lockTTL)
	if err != nil {
		return nil, err
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		if err := u.locker.Unlock(ctx, key, token); err != nil {
			u.log.Warn().Err(err).Str("key", key).Msg("unlock failed")
		}
	}, nil
}

func (u *refundUC) publishStatus(req *model.RefundRequest, from, to model.RefundStatus, actor string) {
	if u.streams == nil {
		return
	}
	u.streams.RefundStatus.Publish(model.RefundStatusChanged{
		RequestID:  req.ID,
		TicketID:   req.TicketID,
		EventID:    req.EventID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		At:         u.now(),
	})
}

