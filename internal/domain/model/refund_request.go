package model

import (
	"time"

	"github.com/google/uuid"

	"ticketing-refund-core/internal/domain"
)

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"    // awaiting operator review
	RefundStatusApproved   RefundStatus = "approved"   // approved, not yet dispatched to a gateway
	RefundStatusProcessing RefundStatus = "processing" // settlement attempt in flight
	RefundStatusCompleted  RefundStatus = "completed"  // money moved; terminal
	RefundStatusRejected   RefundStatus = "rejected"   // operator rejection; terminal
	RefundStatusCancelled  RefundStatus = "cancelled"  // requester withdrew; terminal
	RefundStatusFailed     RefundStatus = "failed"     // settlement failed; retryable
)

// IsFinal reports whether the status terminates the request for ticket-level
// purposes. failed is deliberately absent: it is retryable, but it still
// blocks a second request for the same ticket.
func (s RefundStatus) IsFinal() bool {
	return s == RefundStatusCompleted || s == RefundStatusRejected || s == RefundStatusCancelled
}

type RefundReason string

const (
	RefundReasonEventCancelled    RefundReason = "event_cancelled"
	RefundReasonDuplicatePurchase RefundReason = "duplicate_purchase"
	RefundReasonFraudulent        RefundReason = "fraudulent"
	RefundReasonUnableToAttend    RefundReason = "unable_to_attend"
	RefundReasonChangedMind       RefundReason = "changed_mind"
	RefundReasonOther             RefundReason = "other"
)

// AutoApproved reasons skip operator review and go straight to approved.
func (r RefundReason) AutoApproved() bool {
	switch r {
	case RefundReasonEventCancelled, RefundReasonDuplicatePurchase, RefundReasonFraudulent:
		return true
	}
	return false
}

// StatusTransition is one entry of a request's append-only audit trail.
type StatusTransition struct {
	FromStatus RefundStatus // empty on the creation entry
	ToStatus   RefundStatus
	Timestamp  time.Time
	Actor      string // empty for system transitions
	Note       string
}

// RefundRequest is one refund attempt against one ticket. At most one
// non-final request may exist per ticket; a ticket that reached completed can
// never be refunded again.
type RefundRequest struct {
	ID      string // UUID
	TicketID string
	EventID string
	UserID  string

	Reason          RefundReason
	RequestedAmount int64
	ApprovedAmount  int64 // set on approval; defaults to RequestedAmount for auto-approvals
	ProcessingFee   int64 // withheld at settlement; zero when waived
	Currency        string

	// The original charge these funds return to.
	PaymentMethod    PaymentMethod
	PaymentReference string

	Status        RefundStatus
	StatusHistory []StatusTransition // append-only

	FailureReason string // provider reason of the latest failed attempt

	CreatedAt time.Time
	UpdatedAt time.Time
}

// validTransitions encodes the state machine. No transition may be skipped,
// even where a shortcut would be convenient.
var validTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusPending:    {RefundStatusApproved, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusApproved:   {RefundStatusProcessing},
	RefundStatusProcessing: {RefundStatusCompleted, RefundStatusFailed},
	RefundStatusFailed:     {RefundStatusProcessing},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to RefundStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NewRefundRequest builds a request in its initial state and writes the
// creation entry of the audit trail. The caller decides auto-approval (the
// reason plus any configured amount cap); auto-approved requests start at
// approved with ApprovedAmount set, everything else starts at pending.
func NewRefundRequest(ticket *Ticket, reason RefundReason, amount, fee int64, autoApprove bool, actor, note string, now time.Time) *RefundRequest {
	req := &RefundRequest{
		ID:               uuid.NewString(),
		TicketID:         ticket.ID,
		EventID:          ticket.EventID,
		UserID:           ticket.UserID,
		Reason:           reason,
		RequestedAmount:  amount,
		ProcessingFee:    fee,
		Currency:         ticket.Currency,
		PaymentMethod:    ticket.PaymentMethod,
		PaymentReference: ticket.PaymentReference,
		Status:           RefundStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if autoApprove {
		req.Status = RefundStatusApproved
		req.ApprovedAmount = amount
	}
	req.StatusHistory = append(req.StatusHistory, StatusTransition{
		ToStatus:  req.Status,
		Timestamp: now,
		Actor:     actor,
		Note:      note,
	})
	return req
}

// Transition moves the request to a new status and appends exactly one audit
// entry. Illegal edges return ErrInvalidTransition and leave the request
// untouched.
func (r *RefundRequest) Transition(to RefundStatus, actor, note string, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return domain.ErrInvalidTransition
	}
	r.StatusHistory = append(r.StatusHistory, StatusTransition{
		FromStatus: r.Status,
		ToStatus:   to,
		Timestamp:  now,
		Actor:      actor,
		Note:       note,
	})
	r.Status = to
	r.UpdatedAt = now
	return nil
}
