package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/repository"
	"ticketing-refund-core/internal/infra/bus"
	"ticketing-refund-core/internal/infra/logging"
	"ticketing-refund-core/internal/infra/metrics"
	"ticketing-refund-core/internal/infra/worker"
)

// Compile-time check
var _ CancellationUseCase = (*cancellationUC)(nil)

const pipelineSteps = 5

// CancellationUseCase orchestrates whole-event cancellations: impact
// snapshot, explicit confirmation, then a committed pipeline that
// compensates every ticket holder exactly once. It exclusively owns the
// cancellation's lifecycle.
type CancellationUseCase interface {
	// Create drafts a cancellation with a point-in-time impact snapshot and
	// a default compensation plan. One cancellation per event, ever.
	Create(ctx context.Context, eventID string, reason model.CancellationReason, note, requestedBy string) (*model.EventCancellation, error)
	// UpdatePlan replaces the compensation plan while still reversible.
	UpdatePlan(ctx context.Context, cancellationID string, plan model.CompensationPlan) (*model.EventCancellation, error)
	// Confirm requires the typed confirmation phrase (case-insensitive exact
	// match after trimming) plus the confirming actor.
	Confirm(ctx context.Context, cancellationID, phrase, actor string) (*model.EventCancellation, error)
	// Withdraw abandons a draft before processing starts.
	Withdraw(ctx context.Context, cancellationID, actor string) (*model.EventCancellation, error)
	// Process runs the committed pipeline. Individual refund failures are
	// recorded and do not abort the rest; the terminal status is completed
	// even with errors.
	Process(ctx context.Context, cancellationID string) (*model.EventCancellation, error)
	// RetryFailedRefunds re-attempts only the failed subset of a completed
	// cancellation and updates the aggregate counters.
	RetryFailedRefunds(ctx context.Context, cancellationID, actor string) (*model.EventCancellation, error)
	Get(ctx context.Context, cancellationID string) (*model.EventCancellation, error)
	// ResumeStalled picks up cancellations interrupted mid-pipeline and
	// finishes them without double-paying already-settled tickets.
	ResumeStalled(ctx context.Context) (int, error)
}

type cancellationUC struct {
	cancellations repository.CancellationRepository
	events        repository.EventRepository
	tickets       repository.TicketRepository
	requests      repository.RefundRequestRepository
	refunds       RefundUseCase
	notifier      NotificationUseCase
	pool          *worker.Pool
	tm            repository.TransactionManager
	streams       *bus.Bus

	confirmationPhrase string
	now                func() time.Time
	log                *zerolog.Logger
}

func NewCancellationUseCase(
	cancellations repository.CancellationRepository,
	events repository.EventRepository,
	tickets repository.TicketRepository,
	requests repository.RefundRequestRepository,
	refunds RefundUseCase,
	notifier NotificationUseCase,
	pool *worker.Pool,
	tm repository.TransactionManager,
	streams *bus.Bus,
	confirmationPhrase string,
	logger *zerolog.Logger,
) *cancellationUC {
	if confirmationPhrase == "" {
		confirmationPhrase = "CONFIRM"
	}
	return &cancellationUC{
		cancellations:      cancellations,
		events:             events,
		tickets:            tickets,
		requests:           requests,
		refunds:            refunds,
		notifier:           notifier,
		pool:               pool,
		tm:                 tm,
		streams:            streams,
		confirmationPhrase: confirmationPhrase,
		now:                time.Now,
		log:                logger,
	}
}

func (u *cancellationUC) Create(ctx context.Context, eventID string, reason model.CancellationReason, note, requestedBy string) (*model.EventCancellation, error) {
	event, err := u.events.FindByID(ctx, repository.NoTX, eventID)
	if err != nil {
		return nil, fmt.Errorf("create cancellation: %w", err)
	}
	if event.Status == model.EventStatusCancelled {
		return nil, domain.ErrCancellationExists
	}

	var c *model.EventCancellation
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		// The partial unique index behind Create is the real guard; this
		// lookup only produces the precise error.
		if _, err := u.cancellations.FindLiveByEvent(ctx, tx, eventID); err == nil {
			return domain.ErrCancellationExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		sold, err := u.tickets.FindSoldByEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		impact := snapshotImpact(sold, u.now())
		c = model.NewEventCancellation(eventID, reason, note, requestedBy, impact, u.now())
		return u.cancellations.Create(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncCancellation("created")
	u.log.Info().
		Str("cancellation_id", c.ID).
		Str("event_id", eventID).
		Str("reason", string(reason)).
		Int("tickets_sold", c.Impact.TicketsSold).
		Int64("revenue", c.Impact.Revenue).
		Msg("cancellation drafted")
	return c, nil
}

// snapshotImpact aggregates the blast radius once, at draft time. It is a
// point-in-time estimate and is never recomputed.
func snapshotImpact(sold []*model.Ticket, now time.Time) model.CancellationImpact {
	impact := model.CancellationImpact{
		ByTicketType:    make(map[string]model.ImpactSlice),
		ByPaymentMethod: make(map[model.PaymentMethod]model.ImpactSlice),
		ComputedAt:      now,
	}
	users := make(map[string]struct{})
	for _, t := range sold {
		impact.TicketsSold++
		impact.Revenue += t.Price
		if impact.Currency == "" {
			impact.Currency = t.Currency
		}
		users[t.UserID] = struct{}{}

		byType := impact.ByTicketType[t.TicketTypeID]
		byType.Tickets++
		byType.Revenue += t.Price
		impact.ByTicketType[t.TicketTypeID] = byType

		byMethod := impact.ByPaymentMethod[t.PaymentMethod]
		byMethod.Tickets++
		byMethod.Revenue += t.Price
		impact.ByPaymentMethod[t.PaymentMethod] = byMethod
	}
	impact.AffectedUsers = len(users)
	return impact
}

func (u *cancellationUC) UpdatePlan(ctx context.Context, cancellationID string, plan model.CompensationPlan) (*model.EventCancellation, error) {
	if plan.Percentage <= 0 || plan.Percentage > 100 {
		return nil, fmt.Errorf("%w: plan percentage must be in (0, 100]", domain.ErrInvalidArgument)
	}
	var c *model.EventCancellation
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		c, err = u.cancellations.FindByID(ctx, tx, cancellationID)
		if err != nil {
			return err
		}
		if err := c.ReplacePlan(plan); err != nil {
			return err
		}
		return u.cancellations.Save(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("cancellation_id", c.ID).Str("plan", string(plan.Type)).Float64("percentage", plan.Percentage).Msg("compensation plan updated")
	return c, nil
}

func (u *cancellationUC) Confirm(ctx context.Context, cancellationID, phrase, actor string) (*model.EventCancellation, error) {
	if !strings.EqualFold(strings.TrimSpace(phrase), u.confirmationPhrase) {
		return nil, domain.ErrConfirmationMismatch
	}
	var c *model.EventCancellation
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		c, err = u.cancellations.FindByID(ctx, tx, cancellationID)
		if err != nil {
			return err
		}
		if err := c.Confirm(actor, u.now()); err != nil {
			return err
		}
		return u.cancellations.Save(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncCancellation("confirmed")
	u.log.Info().Str("cancellation_id", c.ID).Str("actor", actor).Msg("cancellation confirmed")
	return c, nil
}

func (u *cancellationUC) Withdraw(ctx context.Context, cancellationID, actor string) (*model.EventCancellation, error) {
	var c *model.EventCancellation
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		c, err = u.cancellations.FindByID(ctx, tx, cancellationID)
		if err != nil {
			return err
		}
		if err := c.Withdraw(); err != nil {
			return err
		}
		return u.cancellations.Save(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncCancellation("withdrawn")
	u.log.Info().Str("cancellation_id", c.ID).Str("actor", actor).Msg("cancellation withdrawn")
	return c, nil
}

func (u *cancellationUC) Get(ctx context.Context, cancellationID string) (*model.EventCancellation, error) {
	return u.cancellations.FindByID(ctx, repository.NoTX, cancellationID)
}

func (u *cancellationUC) Process(ctx context.Context, cancellationID string) (*model.EventCancellation, error) {
	ctx = logging.WithTraceID(logging.WithCancellationID(ctx, cancellationID), uuid.NewString())
	c, err := u.cancellations.FindByID(ctx, repository.NoTX, cancellationID)
	if err != nil {
		return nil, err
	}
	if err := c.BeginProcessing(u.now()); err != nil {
		return nil, err
	}
	if err := u.cancellations.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	return u.runPipeline(ctx, c)
}

// runPipeline is the committed, ordered pipeline. Progress is emitted before
// each phase, since phases may be long-running. It is idempotent: re-running
// it after a crash skips already-settled tickets.
func (u *cancellationUC) runPipeline(ctx context.Context, c *model.EventCancellation) (*model.EventCancellation, error) {
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "cancellation.pipeline")()

	event, err := u.events.FindByID(ctx, repository.NoTX, c.EventID)
	if err != nil {
		return nil, err
	}

	// (a) mark the event cancelled
	u.publishProgress(c, model.PhaseCancellingEvent, 1, "Cancelling event")
	if event.Status != model.EventStatusCancelled {
		if err := u.events.MarkCancelled(ctx, repository.NoTX, c.EventID); err != nil {
			return nil, fmt.Errorf("mark event cancelled: %w", err)
		}
		event.Status = model.EventStatusCancelled
	}

	// (b) invalidate outstanding tickets
	u.publishProgress(c, model.PhaseInvalidatingTickets, 2, "Invalidating tickets")
	invalidated, err := u.tickets.InvalidateByEvent(ctx, repository.NoTX, c.EventID)
	if err != nil {
		// Recorded, not fatal: refunds matter more than ticket status rows.
		c.RecordError("", model.ErrorTypeInvalidationFailed, err.Error(), u.now())
		log.Error().Err(err).Str("event_id", c.EventID).Msg("ticket invalidation failed")
	} else {
		log.Info().Int("invalidated", invalidated).Str("event_id", c.EventID).Msg("tickets invalidated")
	}

	// (c) compensate every unused sold ticket. A scanned ticket was used, so
	// its holder has nothing to be compensated for; they still get the
	// cancellation notice below.
	sold, err := u.tickets.FindSoldByEvent(ctx, repository.NoTX, c.EventID)
	if err != nil {
		return nil, err
	}
	var refundable []*model.Ticket
	for _, t := range sold {
		if t.ScanStatus != model.ScanStatusScanned {
			refundable = append(refundable, t)
		}
	}
	c.RefundsTotal = len(refundable)
	u.publishProgress(c, model.PhaseProcessingRefunds, 3, fmt.Sprintf("Processing %d refunds", len(refundable)))
	if c.Plan.Automatic {
		u.fanOutRefunds(ctx, c, refundable)
	}

	// (d) notify attendees; failures never roll back refunds
	u.publishProgress(c, model.PhaseNotifyingAttendees, 4, "Notifying attendees")
	sent, failed, notifyErrs := u.notifier.NotifyAttendees(ctx, event, c.Plan, sold)
	c.NotificationsSent += sent
	c.NotificationsFailed += failed
	for i := range notifyErrs {
		notifyErrs[i].OccurredAt = u.now()
		c.ProcessingErrors = append(c.ProcessingErrors, notifyErrs[i])
	}

	// (e) finalize
	u.publishProgress(c, model.PhaseFinalizing, 5, "Finalizing")
	if err := c.Complete(u.now()); err != nil {
		return nil, err
	}
	if err := u.cancellations.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}

	metrics.IncCancellation("completed")
	u.publishProgress(c, model.PhaseFinalizing, 5, "Completed")
	log.Info().
		Int("refunds_processed", c.RefundsProcessed).
		Int("refunds_failed", c.RefundsFailed).
		Int("notifications_sent", c.NotificationsSent).
		Int("notifications_failed", c.NotificationsFailed).
		Msg("cancellation completed")
	return c, nil
}

// fanOutRefunds settles every ticket over the worker pool. Each ticket
// succeeds or fails independently; counters and errors are updated under one
// mutex so progress numbers are never lost, and the cancellation record is
// checkpointed as the batch advances.
func (u *cancellationUC) fanOutRefunds(ctx context.Context, c *model.EventCancellation, sold []*model.Ticket) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	// Every run recounts every ticket exactly once, so a resumed pipeline
	// starts from zero instead of double-counting checkpointed tallies.
	c.RefundsProcessed = 0
	c.RefundsFailed = 0
	for _, t := range sold {
		ticket := t
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			err := u.compensateTicket(ctx, c, ticket)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				c.RefundsProcessed++
				metrics.IncCancellationRefund("processed")
			} else {
				c.RefundsFailed++
				c.RecordError(ticket.ID, model.ErrorTypeRefundFailed, err.Error(), u.now())
				metrics.IncCancellationRefund("failed")
			}
			u.publishProgress(c, model.PhaseProcessingRefunds, 3,
				fmt.Sprintf("Refunded %d of %d tickets", c.RefundsProcessed+c.RefundsFailed, c.RefundsTotal))
			// checkpoint the counters so a crash mid-batch loses no tallies
			if (c.RefundsProcessed+c.RefundsFailed)%50 == 0 {
				if err := u.cancellations.Save(ctx, repository.NoTX, c); err != nil {
					u.log.Warn().Err(err).Msg("progress checkpoint failed")
				}
			}
			return nil
		}
		if err := u.pool.Submit(ctx, task); err != nil {
			wg.Done()
			mu.Lock()
			c.RefundsFailed++
			c.RecordError(ticket.ID, model.ErrorTypeRefundFailed, err.Error(), u.now())
			mu.Unlock()
		}
	}
	wg.Wait()
}

// compensateTicket settles one ticket under the plan. Tickets already
// refunded count as processed (resumed runs); a pre-existing request is
// driven forward instead of duplicated.
func (u *cancellationUC) compensateTicket(ctx context.Context, c *model.EventCancellation, ticket *model.Ticket) error {
	_, err := u.refunds.SubmitForCancellation(ctx, ticket, c.Plan, c.ConfirmedBy)
	if err == nil || errors.Is(err, domain.ErrTicketAlreadyRefunded) || errors.Is(err, domain.ErrNotEligible) {
		// Already settled or used since the batch was listed: nothing owed.
		return nil
	}
	if !errors.Is(err, domain.ErrActiveRefundExists) {
		return err
	}

	blocking, ferr := u.requests.FindBlocking(ctx, repository.NoTX, ticket.ID)
	if ferr != nil {
		return err
	}
	switch blocking.Status {
	case model.RefundStatusFailed:
		_, rerr := u.refunds.Retry(ctx, blocking.ID, c.ConfirmedBy)
		return rerr
	case model.RefundStatusPending:
		// A user-initiated request that predates the cancellation: approve
		// it in full rather than leaving the holder uncompensated.
		_, rerr := u.refunds.Approve(ctx, blocking.ID, 0, c.ConfirmedBy, "event cancellation")
		return rerr
	}
	return err
}

func (u *cancellationUC) RetryFailedRefunds(ctx context.Context, cancellationID, actor string) (*model.EventCancellation, error) {
	c, err := u.cancellations.FindByID(ctx, repository.NoTX, cancellationID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CancellationStatusCompleted {
		return nil, fmt.Errorf("%w: cancellation is %s", domain.ErrNotRetryable, c.Status)
	}
	if c.RefundsFailed == 0 {
		return nil, fmt.Errorf("%w: no failed refunds", domain.ErrNotRetryable)
	}

	failedReqs, err := u.requests.ListByEventAndStatus(ctx, repository.NoTX, c.EventID, model.RefundStatusFailed)
	if err != nil {
		return nil, err
	}

	u.log.Info().Str("cancellation_id", c.ID).Int("failed", len(failedReqs)).Msg("retrying failed refunds")
	for _, req := range failedReqs {
		if _, err := u.refunds.Retry(ctx, req.ID, actor); err != nil {
			c.RecordError(req.TicketID, model.ErrorTypeRefundFailed, err.Error(), u.now())
			metrics.IncCancellationRefund("failed")
			continue
		}
		c.RefundsFailed--
		c.RefundsProcessed++
		metrics.IncCancellationRefund("processed")
	}
	if err := u.cancellations.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (u *cancellationUC) ResumeStalled(ctx context.Context) (int, error) {
	stalled, err := u.cancellations.ListProcessing(ctx, repository.NoTX)
	if err != nil {
		return 0, err
	}
	for _, c := range stalled {
		cctx := logging.WithCancellationID(ctx, c.ID)
		u.log.Warn().Str("cancellation_id", c.ID).Msg("resuming interrupted cancellation")
		if _, err := u.runPipeline(cctx, c); err != nil {
			return 0, err
		}
	}
	return len(stalled), nil
}

func (u *cancellationUC) publishProgress(c *model.EventCancellation, phase model.CancellationPhase, step int, message string) {
	if u.streams == nil {
		return
	}
	u.streams.Progress.Publish(model.CancellationProgress{
		CancellationID:   c.ID,
		EventID:          c.EventID,
		Phase:            phase,
		Step:             step,
		TotalSteps:       pipelineSteps,
		Message:          message,
		RefundsProcessed: c.RefundsProcessed,
		RefundsFailed:    c.RefundsFailed,
		RefundsTotal:     c.RefundsTotal,
	})
}
