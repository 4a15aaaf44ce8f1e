package settlement

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/domain"
)

// DefaultPaymentTimeout bounds a single streamed payment attempt.
const DefaultPaymentTimeout = 60 * time.Second

// PaymentTracker sends outbound payments and streams their status. Before
// sending it asks the node whether the payment hash was ever attempted, so a
// retry after a crash cannot pay the same invoice twice.
type PaymentTracker struct {
	ln      LightningClient
	decoder InvoiceDecoder
	timeout time.Duration
	log     *zap.Logger
}

// NewPaymentTracker creates a tracker. A zero timeout falls back to
// DefaultPaymentTimeout.
func NewPaymentTracker(ln LightningClient, decoder InvoiceDecoder, timeout time.Duration, log *zap.Logger) *PaymentTracker {
	if timeout <= 0 {
		timeout = DefaultPaymentTimeout
	}
	return &PaymentTracker{
		ln:      ln,
		decoder: decoder,
		timeout: timeout,
		log:     log,
	}
}

// SendPayment decodes the invoice, aborts with ErrDuplicatePayment if the
// node already tracks an attempt for its hash, then opens a streaming send
// and forwards every status update to sink until the stream ends. The
// invoice amount wins over fallbackSats; an amountless invoice requires
// fallbackSats > 0.
func (t *PaymentTracker) SendPayment(ctx context.Context, invoice string, fallbackSats int64, sink chan<- PaymentUpdate) error {
	decoded, err := t.decoder.Decode(invoice)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecodeInvoice, err)
	}

	hashBytes, err := hex.DecodeString(decoded.PaymentHash)
	if err != nil {
		return fmt.Errorf("%w: bad payment hash", domain.ErrDecodeInvoice)
	}

	tracked, err := t.ln.HasPayment(ctx, hashBytes)
	if err != nil {
		return fmt.Errorf("check payment history: %w", err)
	}
	if tracked {
		t.log.Warn("aborting payment, hash already attempted", zap.String("hash", decoded.PaymentHash))
		return domain.ErrDuplicatePayment
	}

	// The amount rides along only when the invoice itself has none.
	amount := int64(0)
	if !decoded.HasAmount {
		if fallbackSats <= 0 {
			return domain.ErrAmountRequired
		}
		amount = fallbackSats
	}

	updates, errs, err := t.ln.SendPayment(ctx, invoice, amount, t.timeout)
	if err != nil {
		return fmt.Errorf("send payment: %w", err)
	}

	t.log.Info("payment sent", zap.String("hash", decoded.PaymentHash), zap.Int64("amount_sats", amount))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				// Error channel closed; keep draining updates.
				errs = nil
				continue
			}
			return fmt.Errorf("payment stream: %w", err)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case sink <- update:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
