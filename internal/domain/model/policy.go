package model

import (
	"fmt"
	"math"
	"time"
)

// RefundPolicy is the per-event (optionally per-ticket-type) rule set that
// governs refund eligibility. Deadlines are hours-before-event-start and are
// always evaluated against wall-clock time at request time.
type RefundPolicy struct {
	EventID      string
	TicketTypeID string // empty means the policy applies to the whole event

	IsRefundable        bool
	RefundDeadlineHours int     // hard cutoff
	RefundPercentage    float64 // base percentage outside any tier window

	// Optional two-tier window: 100% before the full deadline, a reduced
	// percentage before the partial deadline.
	FullRefundDeadlineHours    *int
	PartialRefundDeadlineHours *int
	PartialRefundPercentage    *float64

	ProcessingFeePercentage float64
	MaxRefundsPerUser       int // 0 means unlimited
}

// DefaultRefundPolicy applies when an event carries no explicit policy:
// 48h cutoff, full refund, 5% fee, with a 72h full / 24h@50% two-tier window.
func DefaultRefundPolicy() RefundPolicy {
	full := 72
	partial := 24
	partialPct := 50.0
	return RefundPolicy{
		IsRefundable:               true,
		RefundDeadlineHours:        48,
		RefundPercentage:           100,
		FullRefundDeadlineHours:    &full,
		PartialRefundDeadlineHours: &partial,
		PartialRefundPercentage:    &partialPct,
		ProcessingFeePercentage:    5,
	}
}

// EligibilityResult is the outcome of a refund quote. Ineligibility is a
// normal result, not an error: IsEligible is false and Reason says why.
type EligibilityResult struct {
	IsEligible bool
	Reason     string

	RefundAmount  int64
	Percentage    float64
	ProcessingFee int64
	NetRefund     int64
	FeeWaived     bool

	Deadline time.Time    // resolved hard-cutoff instant for this ticket
	Policy   RefundPolicy // the policy actually applied, for display/audit
}

// EvaluateEligibility computes whether a ticket may be refunded right now and
// at what amount. It is pure: all inputs are explicit, including the clock,
// so it serves both live quotes and deterministic tests. hasBlockingRequest
// is the caller-supplied fact that another non-final or completed refund
// request already exists for this ticket.
func EvaluateEligibility(ticket *Ticket, event *Event, policy *RefundPolicy, hasBlockingRequest bool, now time.Time) EligibilityResult {
	if ticket.ScanStatus == ScanStatusScanned {
		return ineligible("ticket already used")
	}
	if hasBlockingRequest {
		return ineligible("a refund request already exists for this ticket")
	}

	// Cancellation always triggers full compensation: 100%, fee waived,
	// regardless of what the policy says.
	if event.Status == EventStatusCancelled {
		p := resolvePolicy(policy)
		return EligibilityResult{
			IsEligible:   true,
			RefundAmount: ticket.Price,
			Percentage:   100,
			NetRefund:    ticket.Price,
			FeeWaived:    true,
			Deadline:     event.StartDate,
			Policy:       p,
		}
	}
	if event.Status == EventStatusCompleted {
		return ineligible("event already ended")
	}

	p := resolvePolicy(policy)
	if !p.IsRefundable {
		return ineligible("tickets for this event are not refundable")
	}

	hoursUntil := event.StartDate.Sub(now).Hours()
	deadline := event.StartDate.Add(-time.Duration(p.RefundDeadlineHours) * time.Hour)
	if hoursUntil < float64(p.RefundDeadlineHours) {
		r := ineligible(fmt.Sprintf("refund deadline has passed: requests must be made at least %d hours before the event starts", p.RefundDeadlineHours))
		r.Deadline = deadline
		r.Policy = p
		return r
	}

	pct := p.RefundPercentage
	switch {
	case p.FullRefundDeadlineHours != nil && hoursUntil >= float64(*p.FullRefundDeadlineHours):
		pct = 100
	case p.PartialRefundDeadlineHours != nil && p.PartialRefundPercentage != nil && hoursUntil >= float64(*p.PartialRefundDeadlineHours):
		pct = *p.PartialRefundPercentage
	}

	amount := ApplyPercentage(ticket.Price, pct)
	fee := ApplyPercentage(amount, p.ProcessingFeePercentage)
	return EligibilityResult{
		IsEligible:    true,
		RefundAmount:  amount,
		Percentage:    pct,
		ProcessingFee: fee,
		NetRefund:     amount - fee,
		Deadline:      deadline,
		Policy:        p,
	}
}

func resolvePolicy(p *RefundPolicy) RefundPolicy {
	if p == nil {
		return DefaultRefundPolicy()
	}
	return *p
}

// ApplyPercentage takes pct of an amount in minor units, rounding half away
// from zero. Every percentage-driven amount in the system goes through this
// one helper so policy quotes and compensation plans can never diverge.
func ApplyPercentage(amount int64, pct float64) int64 {
	return int64(math.Round(float64(amount) * pct / 100))
}

func ineligible(reason string) EligibilityResult {
	return EligibilityResult{IsEligible: false, Reason: reason}
}
