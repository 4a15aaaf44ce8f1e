package domain

// InvoiceState is the settlement state of a hold invoice as reported by the
// node.
type InvoiceState string

const (
	InvoiceOpen     InvoiceState = "OPEN"
	InvoiceAccepted InvoiceState = "ACCEPTED"
	InvoiceSettled  InvoiceState = "SETTLED"
	InvoiceCanceled InvoiceState = "CANCELED"
)

// Terminal reports whether the invoice can change state again.
func (s InvoiceState) Terminal() bool {
	return s == InvoiceSettled || s == InvoiceCanceled
}

// PaymentStatus is the state of an outbound payment attempt.
type PaymentStatus string

const (
	PaymentNotAttempted PaymentStatus = "NOT_ATTEMPTED"
	PaymentInFlight     PaymentStatus = "IN_FLIGHT"
	PaymentSucceeded    PaymentStatus = "SUCCEEDED"
	PaymentFailed       PaymentStatus = "FAILED"
)

// Terminal reports whether the payment attempt has finished.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}
