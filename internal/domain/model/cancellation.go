package model

import (
	"time"

	"github.com/google/uuid"

	"ticketing-refund-core/internal/domain"
)

type CancellationStatus string

const (
	CancellationStatusDraft      CancellationStatus = "draft"
	CancellationStatusConfirming CancellationStatus = "confirming"
	CancellationStatusProcessing CancellationStatus = "processing"
	CancellationStatusCompleted  CancellationStatus = "completed"
	// Requester backed out before processing started. The record is kept for
	// audit; a new draft can be created afterwards.
	CancellationStatusWithdrawn CancellationStatus = "withdrawn"
)

// Reversible reports whether the cancellation can still be withdrawn. Once
// processing starts the cancellation is committed, even if individual
// refunds fail.
func (s CancellationStatus) Reversible() bool {
	return s == CancellationStatusDraft || s == CancellationStatusConfirming
}

type CancellationReason string

const (
	CancellationReasonOrganizerDecision CancellationReason = "organizer_decision"
	CancellationReasonVenueUnavailable  CancellationReason = "venue_unavailable"
	CancellationReasonForceMajeure      CancellationReason = "force_majeure"
	CancellationReasonSafetyConcern     CancellationReason = "safety_concern"
	CancellationReasonLowTicketSales    CancellationReason = "low_ticket_sales"
	CancellationReasonRescheduled       CancellationReason = "rescheduled"
)

// WarrantsFullRefund reports whether the reason defaults the compensation
// plan to a 100% fee-waived refund. Rescheduled events default to credit
// since attendees may keep their tickets.
func (r CancellationReason) WarrantsFullRefund() bool {
	return r != CancellationReasonRescheduled
}

// CancellationImpact is a point-in-time estimate of the blast radius of
// cancelling an event, computed once at draft creation and never recomputed.
type CancellationImpact struct {
	TicketsSold   int
	AffectedUsers int
	Revenue       int64
	Currency      string

	ByTicketType    map[string]ImpactSlice
	ByPaymentMethod map[PaymentMethod]ImpactSlice

	ComputedAt time.Time
}

type ImpactSlice struct {
	Tickets int
	Revenue int64
}

type CompensationType string

const (
	CompensationFullRefund    CompensationType = "full_refund"
	CompensationPartialRefund CompensationType = "partial_refund"
	CompensationCredit        CompensationType = "credit"
)

type FeeHandling string

const (
	FeeWaived   FeeHandling = "waived"   // attendee receives the full percentage
	FeeDeducted FeeHandling = "deducted" // processing fee withheld from the refund
)

// CompensationPlan declares the terms under which attendees are made whole.
type CompensationPlan struct {
	Type        CompensationType
	Percentage  float64
	FeeHandling FeeHandling
	// Automatic plans drive the refund machinery for every ticket; manual
	// plans only record the commitment for back-office handling.
	Automatic bool
}

// DefaultCompensationPlan derives the initial plan from the reason.
func DefaultCompensationPlan(reason CancellationReason) CompensationPlan {
	if reason.WarrantsFullRefund() {
		return CompensationPlan{Type: CompensationFullRefund, Percentage: 100, FeeHandling: FeeWaived, Automatic: true}
	}
	return CompensationPlan{Type: CompensationCredit, Percentage: 100, FeeHandling: FeeWaived, Automatic: true}
}

type ProcessingErrorType string

const (
	ErrorTypeRefundFailed       ProcessingErrorType = "refundFailed"
	ErrorTypeInvalidationFailed ProcessingErrorType = "invalidationFailed"
	ErrorTypeNotificationFailed ProcessingErrorType = "notificationFailed"
)

// CancellationProcessingError captures a per-ticket failure with enough
// context to retry or manually resolve later. Failures are recorded, never
// silently skipped.
type CancellationProcessingError struct {
	TicketID   string
	ErrorType  ProcessingErrorType
	Message    string
	OccurredAt time.Time
}

// EventCancellation owns the lifecycle of cancelling one event. One record
// per event, ever; the orchestrator exclusively owns its status.
type EventCancellation struct {
	ID         string // UUID
	EventID    string
	Reason     CancellationReason
	ReasonNote string

	Status CancellationStatus
	Impact CancellationImpact
	Plan   CompensationPlan

	RequestedBy string
	ConfirmedBy string

	RefundsTotal        int
	RefundsProcessed    int
	RefundsFailed       int
	NotificationsSent   int
	NotificationsFailed int
	ProcessingErrors    []CancellationProcessingError

	CreatedAt   time.Time
	ConfirmedAt *time.Time
	ProcessedAt *time.Time
	CompletedAt *time.Time
}

func NewEventCancellation(eventID string, reason CancellationReason, note, requestedBy string, impact CancellationImpact, now time.Time) *EventCancellation {
	return &EventCancellation{
		ID:          uuid.NewString(),
		EventID:     eventID,
		Reason:      reason,
		ReasonNote:  note,
		Status:      CancellationStatusDraft,
		Impact:      impact,
		Plan:        DefaultCompensationPlan(reason),
		RequestedBy: requestedBy,
		CreatedAt:   now,
	}
}

// ReplacePlan swaps the compensation plan while the cancellation is still
// reversible.
func (c *EventCancellation) ReplacePlan(plan CompensationPlan) error {
	if !c.Status.Reversible() {
		return domain.ErrIrreversible
	}
	c.Plan = plan
	return nil
}

// Confirm moves draft/confirming to confirming and records the actor. The
// confirmation phrase itself is validated by the orchestrator.
func (c *EventCancellation) Confirm(actor string, now time.Time) error {
	if !c.Status.Reversible() {
		return domain.ErrInvalidTransition
	}
	c.Status = CancellationStatusConfirming
	c.ConfirmedBy = actor
	c.ConfirmedAt = &now
	return nil
}

// BeginProcessing commits the cancellation. There is no way back.
func (c *EventCancellation) BeginProcessing(now time.Time) error {
	if c.Status != CancellationStatusConfirming {
		return domain.ErrInvalidTransition
	}
	c.Status = CancellationStatusProcessing
	c.ProcessedAt = &now
	return nil
}

// Complete finalizes the pipeline. Completed-with-errors is still completed:
// by this point the event is cancelled and tickets are invalidated, so the
// only honest signal is the processed/failed counter pair.
func (c *EventCancellation) Complete(now time.Time) error {
	if c.Status != CancellationStatusProcessing {
		return domain.ErrInvalidTransition
	}
	c.Status = CancellationStatusCompleted
	c.CompletedAt = &now
	return nil
}

// Withdraw abandons a draft before it is committed.
func (c *EventCancellation) Withdraw() error {
	if !c.Status.Reversible() {
		return domain.ErrIrreversible
	}
	c.Status = CancellationStatusWithdrawn
	return nil
}

// RecordError appends a per-ticket failure to the audit list.
func (c *EventCancellation) RecordError(ticketID string, kind ProcessingErrorType, message string, now time.Time) {
	c.ProcessingErrors = append(c.ProcessingErrors, CancellationProcessingError{
		TicketID:   ticketID,
		ErrorType:  kind,
		Message:    message,
		OccurredAt: now,
	})
}

// CancellationPhase labels the pipeline step a progress update refers to.
type CancellationPhase string

const (
	PhaseCancellingEvent     CancellationPhase = "cancelling_event"
	PhaseInvalidatingTickets CancellationPhase = "invalidating_tickets"
	PhaseProcessingRefunds   CancellationPhase = "processing_refunds"
	PhaseNotifyingAttendees  CancellationPhase = "notifying_attendees"
	PhaseFinalizing          CancellationPhase = "finalizing"
)

// CancellationProgress is the payload of the progress stream. It is emitted
// before the corresponding work starts, so a caller can render it while the
// work is still running.
type CancellationProgress struct {
	CancellationID string
	EventID        string
	Phase          CancellationPhase
	Step           int
	TotalSteps     int
	Message        string

	RefundsProcessed int
	RefundsFailed    int
	RefundsTotal     int
}

// RefundStatusChanged is the payload of the refund status stream.
type RefundStatusChanged struct {
	RequestID  string
	TicketID   string
	EventID    string
	FromStatus RefundStatus
	ToStatus   RefundStatus
	Actor      string
	At         time.Time
}
