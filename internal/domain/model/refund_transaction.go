package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type TransactionStatus string

const (
	TransactionStatusInitiated  TransactionStatus = "initiated"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
)

func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// RefundTransaction records one settlement attempt against an approved
// request. A failed attempt followed by a successful retry produces two
// transactions; both are retained. Once a transaction reaches a terminal
// status it is immutable: status and timestamps are only ever appended,
// never rewritten.
type RefundTransaction struct {
	ID              string // ULID: attempts sort chronologically per request
	RefundRequestID string
	TicketID        string
	EventID         string

	OriginalAmount int64
	RefundAmount   int64
	ProcessingFee  int64
	NetRefund      int64 // RefundAmount - ProcessingFee
	Currency       string

	PaymentMethod     PaymentMethod
	ProviderReference string // set on success

	Status        TransactionStatus
	FailureReason string

	InitiatedAt time.Time
	ProcessedAt *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
}

// NewRefundTransaction opens a settlement attempt for an approved request.
// The fee is withheld from the refund amount unless waived.
func NewRefundTransaction(req *RefundRequest, originalAmount, refundAmount, fee int64, now time.Time) *RefundTransaction {
	return &RefundTransaction{
		ID:              ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		RefundRequestID: req.ID,
		TicketID:        req.TicketID,
		EventID:         req.EventID,
		OriginalAmount:  originalAmount,
		RefundAmount:    refundAmount,
		ProcessingFee:   fee,
		NetRefund:       refundAmount - fee,
		Currency:        req.Currency,
		PaymentMethod:   req.PaymentMethod,
		Status:          TransactionStatusInitiated,
		InitiatedAt:     now,
	}
}

// MarkProcessing stamps the dispatch to the gateway.
func (t *RefundTransaction) MarkProcessing(now time.Time) {
	t.Status = TransactionStatusProcessing
	t.ProcessedAt = &now
}

// MarkCompleted records the provider reference of a successful settlement.
func (t *RefundTransaction) MarkCompleted(providerRef string, now time.Time) {
	t.Status = TransactionStatusCompleted
	t.ProviderReference = providerRef
	t.CompletedAt = &now
}

// MarkFailed records the provider-supplied reason of a failed settlement.
func (t *RefundTransaction) MarkFailed(reason string, now time.Time) {
	t.Status = TransactionStatusFailed
	t.FailureReason = reason
	t.FailedAt = &now
}
