package domain

import "errors"

var (
	// ErrOrderNotFound means the referenced order does not exist. Benign:
	// the triggering message is stale or malicious, nothing is mutated and
	// no reply is sent.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidState means the requested action is illegal for the order's
	// current status. The sender gets a CantDo reply.
	ErrInvalidState = errors.New("invalid order state for action")

	// ErrUnauthorized means the sender identity does not match the party
	// allowed to perform the action. The sender gets a CantDo reply.
	ErrUnauthorized = errors.New("sender not authorized for action")

	// ErrInvariantViolation marks a bug-class inconsistency, e.g. an Active
	// order with no seller pubkey.
	ErrInvariantViolation = errors.New("order invariant violated")

	// ErrInvalidPreimage means a preimage is not 32 bytes of valid hex.
	ErrInvalidPreimage = errors.New("invalid preimage")

	// ErrDecodeInvoice means an invoice string could not be parsed.
	ErrDecodeInvoice = errors.New("cannot decode invoice")

	// ErrDuplicatePayment means the node already tracks a payment for the
	// hash, so the send was aborted before any sats moved.
	ErrDuplicatePayment = errors.New("payment already attempted")

	// ErrAmountRequired means the invoice carries no amount and the caller
	// supplied no fallback amount.
	ErrAmountRequired = errors.New("amount required for amountless invoice")

	// ErrPreimageNotFound means no preimage is vaulted for the payment hash.
	ErrPreimageNotFound = errors.New("preimage not found")
)
