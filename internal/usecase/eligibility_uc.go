package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ticketing-refund-core/internal/domain"
	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/repository"
)

// Compile-time check
var _ EligibilityUseCase = (*eligibilityUC)(nil)

// EligibilityUseCase answers "may this ticket be refunded right now, and for
// how much". Ineligibility is a normal result, not an error.
type EligibilityUseCase interface {
	// Quote resolves the ticket, event, effective policy and any blocking
	// request, then evaluates eligibility against the wall clock.
	Quote(ctx context.Context, ticketID string) (model.EligibilityResult, error)
}

type eligibilityUC struct {
	tickets  repository.TicketRepository
	events   repository.EventRepository
	policies repository.RefundPolicyRepository
	requests repository.RefundRequestRepository
	now      func() time.Time
	log      *zerolog.Logger
}

func NewEligibilityUseCase(
	tickets repository.TicketRepository,
	events repository.EventRepository,
	policies repository.RefundPolicyRepository,
	requests repository.RefundRequestRepository,
	logger *zerolog.Logger,
) *eligibilityUC {
	return &eligibilityUC{
		tickets:  tickets,
		events:   events,
		policies: policies,
		requests: requests,
		now:      time.Now,
		log:      logger,
	}
}

func (u *eligibilityUC) Quote(ctx context.Context, ticketID string) (model.EligibilityResult, error) {
	ticket, err := u.tickets.FindByID(ctx, repository.NoTX, ticketID)
	if err != nil {
		return model.EligibilityResult{}, err
	}
	event, err := u.events.FindByID(ctx, repository.NoTX, ticket.EventID)
	if err != nil {
		return model.EligibilityResult{}, err
	}
	policy, err := resolvePolicy(ctx, u.policies, repository.NoTX, ticket)
	if err != nil {
		return model.EligibilityResult{}, err
	}

	blocking := false
	if _, err := u.requests.FindBlocking(ctx, repository.NoTX, ticket.ID); err == nil {
		blocking = true
	} else if !errors.Is(err, domain.ErrNotFound) {
		return model.EligibilityResult{}, err
	}

	res := model.EvaluateEligibility(ticket, event, policy, blocking, u.now())
	u.log.Debug().
		Str("ticket_id", ticket.ID).
		Bool("eligible", res.IsEligible).
		Str("reason", res.Reason).
		Float64("percentage", res.Percentage).
		Msg("refund quote")
	return res, nil
}

// resolvePolicy looks up the effective policy for a ticket; ErrNotFound maps
// to nil, which the evaluator resolves to the documented default.
func resolvePolicy(ctx context.Context, policies repository.RefundPolicyRepository, tx repository.Tx, ticket *model.Ticket) (*model.RefundPolicy, error) {
	policy, err := policies.FindForTicket(ctx, tx, ticket.EventID, ticket.TicketTypeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return policy, nil
}
