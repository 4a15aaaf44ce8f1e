package settlement

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/domain"
	"github.com/diazemiliano/mostro/metrics"
)

// CreatedInvoice is the result of creating a hold invoice. The preimage is
// returned exactly once; the caller must vault it and disclose it only at
// settlement time.
type CreatedInvoice struct {
	PaymentRequest string
	Preimage       string // hex
	Hash           string // hex, SHA-256 of the preimage
}

// HoldInvoiceManager owns the hold-invoice lifecycle against the node:
// create, watch, settle, cancel.
type HoldInvoiceManager struct {
	ln        LightningClient
	cltvDelta uint64
	log       *zap.Logger
}

// NewHoldInvoiceManager creates a manager using the given node client and
// the CLTV delta applied to every hold invoice.
func NewHoldInvoiceManager(ln LightningClient, cltvDelta uint64, log *zap.Logger) *HoldInvoiceManager {
	return &HoldInvoiceManager{
		ln:        ln,
		cltvDelta: cltvDelta,
		log:       log,
	}
}

// CreateHoldInvoice generates a random 32-byte preimage, registers a hold
// invoice on its SHA-256 hash and returns invoice, preimage and hash.
func (m *HoldInvoiceManager) CreateHoldInvoice(ctx context.Context, memo string, amountSats int64) (*CreatedInvoice, error) {
	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, fmt.Errorf("generate preimage: %w", err)
	}
	hash := sha256.Sum256(preimage[:])

	payReq, err := m.ln.AddHoldInvoice(ctx, memo, hash[:], amountSats, m.cltvDelta)
	if err != nil {
		return nil, fmt.Errorf("add hold invoice: %w", err)
	}

	hashHex := hex.EncodeToString(hash[:])
	metrics.HoldInvoicesCreated.Inc()
	m.log.Info("hold invoice created", zap.String("hash", hashHex), zap.Int64("amount_sats", amountSats))

	return &CreatedInvoice{
		PaymentRequest: payReq,
		Preimage:       hex.EncodeToString(preimage[:]),
		Hash:           hashHex,
	}, nil
}

// SubscribeInvoice forwards every state change of one invoice to sink until
// the node stream ends. It does not reconnect; callers wanting continued
// observation after a stream failure must call again.
func (m *HoldInvoiceManager) SubscribeInvoice(ctx context.Context, hash string, sink chan<- InvoiceUpdate) error {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("invalid payment hash: %w", err)
	}

	updates, errs, err := m.ln.SubscribeSingleInvoice(ctx, hashBytes)
	if err != nil {
		return fmt.Errorf("subscribe invoice: %w", err)
	}

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
			return fmt.Errorf("invoice stream: %w", err)
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			m.log.Debug("invoice state change",
				zap.String("hash", update.Hash),
				zap.String("state", string(update.State)))
			select {
			case sink <- update:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// SettleHoldInvoice reveals the preimage to the node. The node verifies that
// the preimage hashes to the invoice's payment hash before crediting.
func (m *HoldInvoiceManager) SettleHoldInvoice(ctx context.Context, preimage string) error {
	preimageBytes, err := hex.DecodeString(preimage)
	if err != nil || len(preimageBytes) != 32 {
		return domain.ErrInvalidPreimage
	}

	if err := m.ln.SettleInvoice(ctx, preimageBytes); err != nil {
		return fmt.Errorf("settle hold invoice: %w", err)
	}
	m.log.Info("hold invoice settled", zap.String("hash", hashOf(preimageBytes)))
	return nil
}

// CancelHoldInvoice releases the hold without payment.
func (m *HoldInvoiceManager) CancelHoldInvoice(ctx context.Context, hash string) error {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return fmt.Errorf("invalid payment hash: %w", err)
	}

	if err := m.ln.CancelInvoice(ctx, hashBytes); err != nil {
		return fmt.Errorf("cancel hold invoice: %w", err)
	}
	m.log.Info("hold invoice canceled", zap.String("hash", hash))
	return nil
}

func hashOf(preimage []byte) string {
	h := sha256.Sum256(preimage)
	return hex.EncodeToString(h[:])
}
