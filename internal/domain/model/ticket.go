package model

import "time"

// PaymentMethod identifies the rail the ticket was originally paid on.
// Refunds are settled back over the same rail.
type PaymentMethod string

const (
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodWallet      PaymentMethod = "wallet"
)

type ScanStatus string

const (
	ScanStatusUnused  ScanStatus = "unused"
	ScanStatusScanned ScanStatus = "scanned"
	ScanStatusExpired ScanStatus = "expired"
)

type TicketStatus string

const (
	TicketStatusValid       TicketStatus = "valid"
	TicketStatusInvalidated TicketStatus = "invalidated"
	TicketStatusRefunded    TicketStatus = "refunded"
)

// Ticket is the read model the refund core consumes. Issuance, QR codes and
// scanning live outside this module; we only need enough to price a refund
// and route it back to the payer.
type Ticket struct {
	ID               string // UUID
	EventID          string // UUID
	UserID           string // UUID
	TicketTypeID     string
	Price            int64 // minor units (integer, to avoid float errors)
	Currency         string
	Status           TicketStatus
	ScanStatus       ScanStatus
	ScannedAt        *time.Time
	PaymentMethod    PaymentMethod
	PaymentReference string // provider reference of the original charge
	PurchasedAt      time.Time
}

type EventStatus string

const (
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusCompleted EventStatus = "completed"
)

// Event is the read model for the owning event.
type Event struct {
	ID        string // UUID
	Name      string
	Status    EventStatus
	StartDate time.Time
	EndDate   time.Time
}
