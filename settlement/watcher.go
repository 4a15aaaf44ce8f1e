package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/domain"
	"github.com/diazemiliano/mostro/metrics"
)

// InvoiceWatcher observes one order's hold invoice and activates the order
// when the invoice is accepted (funds locked). The HoldInvoiceManager never
// reconnects a dropped stream, so the watcher is the caller that does,
// backing off between attempts until the invoice reaches a terminal state.
type InvoiceWatcher struct {
	holds     *HoldInvoiceManager
	store     OrderStore
	messenger PeerMessenger
	sealer    MessageSealer
	backoff   time.Duration
	log       *zap.Logger
}

// NewInvoiceWatcher creates a watcher over the given collaborators.
func NewInvoiceWatcher(
	holds *HoldInvoiceManager,
	store OrderStore,
	messenger PeerMessenger,
	sealer MessageSealer,
	log *zap.Logger,
) *InvoiceWatcher {
	return &InvoiceWatcher{
		holds:     holds,
		store:     store,
		messenger: messenger,
		sealer:    sealer,
		backoff:   5 * time.Second,
		log:       log,
	}
}

// Start begins watching in a background goroutine. Non-blocking.
func (w *InvoiceWatcher) Start(ctx context.Context, orderID, hash string) {
	go func() {
		if err := w.Watch(ctx, orderID, hash); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("invoice watch ended", zap.String("order_id", orderID), zap.Error(err))
		}
	}()
}

// Watch blocks until the invoice reaches a terminal state or ctx is
// canceled, resubscribing on transient stream failures.
func (w *InvoiceWatcher) Watch(ctx context.Context, orderID, hash string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		terminal, err := w.watchOnce(ctx, orderID, hash)
		if terminal || errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil {
			w.log.Warn("invoice stream dropped, resubscribing",
				zap.String("order_id", orderID), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff):
		}
	}
}

// watchOnce drains one subscription. It returns terminal=true once the
// invoice settled or was canceled and there is nothing left to observe.
func (w *InvoiceWatcher) watchOnce(ctx context.Context, orderID, hash string) (bool, error) {
	sink := make(chan InvoiceUpdate)
	errc := make(chan error, 1)
	go func() {
		errc <- w.holds.SubscribeInvoice(ctx, hash, sink)
		close(sink)
	}()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case update, ok := <-sink:
			if !ok {
				return false, <-errc
			}
			switch update.State {
			case domain.InvoiceAccepted:
				if err := w.activate(ctx, orderID); err != nil {
					w.log.Error("activating order failed", zap.String("order_id", orderID), zap.Error(err))
				}
			case domain.InvoiceSettled, domain.InvoiceCanceled:
				w.log.Info("invoice reached terminal state",
					zap.String("order_id", orderID),
					zap.String("state", string(update.State)))
				go func() {
					for range sink {
					}
				}()
				return true, nil
			}
		}
	}
}

// activate moves a pending order to Active and tells both parties the escrow
// is funded. A second Accepted event for the same order is a no-op.
func (w *InvoiceWatcher) activate(ctx context.Context, orderID string) error {
	order, err := w.store.Load(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if order.Status != domain.StatusPending {
		return nil
	}

	if err := order.Transition(domain.StatusActive); err != nil {
		return err
	}
	if err := w.store.Save(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(domain.StatusActive)).Inc()
	w.log.Info("escrow funded, order active", zap.String("order_id", orderID))

	funded := domain.NewMessage(order.ID, domain.ActionEscrowFunded, domain.TextContent("escrow funded, you can proceed with the trade"))
	for _, recipient := range []string{order.SellerPubkey, order.BuyerPubkey} {
		if recipient == "" {
			continue
		}
		payload, err := w.sealer.Seal(funded)
		if err != nil {
			return fmt.Errorf("seal message: %w", err)
		}
		if err := w.messenger.Send(ctx, recipient, payload); err != nil {
			return fmt.Errorf("notify %s: %w", recipient, err)
		}
	}
	return nil
}
