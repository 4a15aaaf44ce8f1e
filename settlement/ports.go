package settlement

import (
	"context"
	"time"

	"github.com/diazemiliano/mostro/domain"
)

// InvoiceUpdate is one state change observed on a hold invoice.
type InvoiceUpdate struct {
	Hash  string // payment hash, hex
	State domain.InvoiceState
	Amt   int64 // satoshis
}

// PaymentUpdate is one state change observed on an outbound payment.
type PaymentUpdate struct {
	Hash          string // payment hash, hex
	Status        domain.PaymentStatus
	Preimage      string // hex, set once the payment succeeds
	FailureReason string
}

// LightningClient defines the interface for interacting with the Lightning
// node. The engine talks ONLY to this interface — never to lnrpc directly.
type LightningClient interface {
	// AddHoldInvoice registers a hold invoice keyed on hash and returns the
	// encoded payment request.
	AddHoldInvoice(ctx context.Context, memo string, hash []byte, amountSats int64, cltvDelta uint64) (string, error)

	// SubscribeSingleInvoice streams state changes for one invoice. The
	// channels close when the underlying stream ends.
	SubscribeSingleInvoice(ctx context.Context, hash []byte) (<-chan InvoiceUpdate, <-chan error, error)

	// SettleInvoice settles a held invoice with its preimage.
	SettleInvoice(ctx context.Context, preimage []byte) error

	// CancelInvoice releases a held invoice without payment.
	CancelInvoice(ctx context.Context, hash []byte) error

	// HasPayment reports whether the node already tracks a payment attempt
	// for the hash.
	HasPayment(ctx context.Context, hash []byte) (bool, error)

	// SendPayment opens a streaming payment attempt. amountSats must be 0
	// when the invoice itself carries an amount.
	SendPayment(ctx context.Context, invoice string, amountSats int64, timeout time.Duration) (<-chan PaymentUpdate, <-chan error, error)
}

// DecodedInvoice is the escrow-relevant subset of a parsed BOLT11 invoice.
type DecodedInvoice struct {
	PaymentHash string // hex
	NumSats     int64
	HasAmount   bool
	Description string
	Expiry      time.Duration
}

// InvoiceDecoder parses payment requests. Pure, no I/O.
type InvoiceDecoder interface {
	Decode(invoice string) (*DecodedInvoice, error)
}

// OrderStore loads and persists orders. Implementations must serialize
// writes per order id; Save updates status and event id atomically.
type OrderStore interface {
	Load(ctx context.Context, id string) (*domain.Order, error)
	Save(ctx context.Context, order *domain.Order) error
}

// PeerMessenger sends an already-sealed envelope to a counterparty identity.
// Transport and transport-level encryption are the implementation's problem.
type PeerMessenger interface {
	Send(ctx context.Context, recipientPubkey string, payload []byte) error
}

// MessageSealer signs a protocol message into the envelope bytes handed to
// the PeerMessenger.
type MessageSealer interface {
	Seal(msg domain.Message) ([]byte, error)
}

// PreimageVault keeps hold-invoice preimages out of the order record. Keys
// are payment hashes, values preimages, both hex.
type PreimageVault interface {
	Put(ctx context.Context, hash, preimage string) error
	Get(ctx context.Context, hash string) (string, error)
	Delete(ctx context.Context, hash string) error
}
