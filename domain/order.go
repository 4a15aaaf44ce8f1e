package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order. Transitions are restricted to
// the table below; Settled, Canceled and CooperativelyCanceled are terminal.
type Status string

const (
	StatusPending               Status = "Pending"
	StatusActive                Status = "Active"
	StatusFiatSent              Status = "FiatSent"
	StatusSettled               Status = "Settled"
	StatusCanceled              Status = "Canceled"
	StatusCooperativelyCanceled Status = "CooperativelyCanceled"
	StatusDisputed              Status = "Disputed"
)

// transitions is the closed set of legal status moves.
var transitions = map[Status][]Status{
	StatusPending:  {StatusActive, StatusCanceled},
	StatusActive:   {StatusFiatSent, StatusCanceled, StatusCooperativelyCanceled},
	StatusFiatSent: {StatusSettled, StatusCanceled, StatusCooperativelyCanceled, StatusDisputed},
	StatusDisputed: {StatusSettled, StatusCanceled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSettled, StatusCanceled, StatusCooperativelyCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusFiatSent, StatusSettled,
		StatusCanceled, StatusCooperativelyCanceled, StatusDisputed:
		return true
	}
	return false
}

// Order is one escrowed trade between a buyer and a seller. Pubkeys are
// x-only hex and immutable once assigned; PaymentHash is set when the hold
// invoice backing the trade is created.
type Order struct {
	ID              string
	Status          Status
	AmountSats      int64
	FiatCode        string
	FiatAmount      decimal.Decimal
	BuyerPubkey     string // empty until the buyer side is taken
	SellerPubkey    string // empty until the seller side is taken
	BuyerInvoice    string // invoice paid out to the buyer at release
	PaymentHash     string // hold invoice hash, hex
	CancelInitiator string // pubkey of the first cooperative-cancel requester
	EventID         string // last published order event
	CreatedAt       time.Time
}

// NewOrder creates a Pending order with a fresh id.
func NewOrder(amountSats int64, fiatCode string, fiatAmount decimal.Decimal) *Order {
	return &Order{
		ID:         uuid.NewString(),
		Status:     StatusPending,
		AmountSats: amountSats,
		FiatCode:   fiatCode,
		FiatAmount: fiatAmount,
		CreatedAt:  time.Now().UTC(),
	}
}

// Transition moves the order to a new status, enforcing the state machine.
func (o *Order) Transition(to Status) error {
	if o.Status.Terminal() || !CanTransition(o.Status, to) {
		return ErrInvalidState
	}
	o.Status = to
	return nil
}
