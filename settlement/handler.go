package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/domain"
	"github.com/diazemiliano/mostro/metrics"
)

const cantDoText = "you are not allowed to perform this action on this order"

// OrderProtocolHandler orchestrates order transitions. It validates an
// incoming protocol message against order state, drives the hold-invoice
// and payment lifecycles, persists the new status and notifies the
// counterparties. Persistence always happens before outbound notifications.
type OrderProtocolHandler struct {
	store     OrderStore
	messenger PeerMessenger
	sealer    MessageSealer
	holds     *HoldInvoiceManager
	payments  *PaymentTracker
	vault     PreimageVault
	log       *zap.Logger
}

// NewOrderProtocolHandler wires the orchestrator.
func NewOrderProtocolHandler(
	store OrderStore,
	messenger PeerMessenger,
	sealer MessageSealer,
	holds *HoldInvoiceManager,
	payments *PaymentTracker,
	vault PreimageVault,
	log *zap.Logger,
) *OrderProtocolHandler {
	return &OrderProtocolHandler{
		store:     store,
		messenger: messenger,
		sealer:    sealer,
		holds:     holds,
		payments:  payments,
		vault:     vault,
		log:       log,
	}
}

// HandleMessage dispatches an authenticated inbound message. sender is the
// verified pubkey of the author, never taken from the message body.
func (h *OrderProtocolHandler) HandleMessage(ctx context.Context, msg domain.Message, sender string) error {
	switch msg.Action {
	case domain.ActionFiatSent:
		return h.HandleFiatSent(ctx, msg, sender)
	case domain.ActionRelease:
		return h.HandleRelease(ctx, msg, sender)
	case domain.ActionCancel:
		return h.HandleCancel(ctx, msg, sender)
	case domain.ActionDispute:
		return h.HandleDispute(ctx, msg, sender)
	default:
		h.log.Warn("unhandled action", zap.String("action", string(msg.Action)), zap.String("sender", sender))
		return nil
	}
}

// HandleFiatSent processes the buyer's declaration that fiat is on its way:
// Active -> FiatSent, then both parties learn each other's identity.
func (h *OrderProtocolHandler) HandleFiatSent(ctx context.Context, msg domain.Message, sender string) error {
	order, err := h.store.Load(ctx, msg.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// No reply: an unknown sender must not learn whether an id exists.
			h.log.Error("fiat sent: order not found", zap.String("order_id", msg.OrderID))
			return nil
		}
		return fmt.Errorf("load order: %w", err)
	}

	if order.Status != domain.StatusActive {
		h.log.Error("fiat sent: wrong status",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)))
		return h.cantDo(ctx, order.ID, sender)
	}

	// Only the buyer may declare fiat sent. Anyone else gets a rejection
	// and the order stays where it is.
	if sender != order.BuyerPubkey {
		h.log.Error("fiat sent: sender is not the buyer",
			zap.String("order_id", order.ID),
			zap.String("sender", sender))
		return h.cantDo(ctx, order.ID, sender)
	}

	// An Active order must always have a seller identity.
	if order.SellerPubkey == "" {
		h.log.Error("fiat sent: seller pubkey missing", zap.String("order_id", order.ID))
		return fmt.Errorf("%w: active order %s has no seller", domain.ErrInvariantViolation, order.ID)
	}

	if err := order.Transition(domain.StatusFiatSent); err != nil {
		return err
	}
	if err := h.store.Save(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(domain.StatusFiatSent)).Inc()

	// Persisted first, notified after: a crash here means redelivery, never
	// a counterparty acting on a status we no longer hold.
	seller := domain.NewMessage(order.ID, domain.ActionFiatSent, domain.PeerContent(order.BuyerPubkey))
	if err := h.notify(ctx, order.SellerPubkey, seller); err != nil {
		return fmt.Errorf("notify seller: %w", err)
	}
	buyer := domain.NewMessage(order.ID, domain.ActionFiatSent, domain.PeerContent(order.SellerPubkey))
	if err := h.notify(ctx, order.BuyerPubkey, buyer); err != nil {
		return fmt.Errorf("notify buyer: %w", err)
	}
	return nil
}

// HandleRelease processes the seller's release: the hold invoice is settled
// with the vaulted preimage, the order becomes Settled and the buyer payout
// is attempted in the background.
func (h *OrderProtocolHandler) HandleRelease(ctx context.Context, msg domain.Message, sender string) error {
	order, err := h.store.Load(ctx, msg.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.log.Error("release: order not found", zap.String("order_id", msg.OrderID))
			return nil
		}
		return fmt.Errorf("load order: %w", err)
	}

	if order.Status != domain.StatusFiatSent {
		h.log.Error("release: wrong status",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)))
		return h.cantDo(ctx, order.ID, sender)
	}
	if sender != order.SellerPubkey {
		h.log.Error("release: sender is not the seller", zap.String("order_id", order.ID))
		return h.cantDo(ctx, order.ID, sender)
	}

	preimage, err := h.vault.Get(ctx, order.PaymentHash)
	if err != nil {
		if errors.Is(err, domain.ErrPreimageNotFound) {
			return fmt.Errorf("%w: no preimage vaulted for order %s", domain.ErrInvariantViolation, order.ID)
		}
		return fmt.Errorf("load preimage: %w", err)
	}

	if err := h.holds.SettleHoldInvoice(ctx, preimage); err != nil {
		return err
	}
	metrics.InvoicesSettled.Inc()

	if err := order.Transition(domain.StatusSettled); err != nil {
		return err
	}
	if err := h.store.Save(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(domain.StatusSettled)).Inc()

	if err := h.vault.Delete(ctx, order.PaymentHash); err != nil {
		h.log.Warn("release: deleting vaulted preimage failed", zap.String("order_id", order.ID), zap.Error(err))
	}

	buyerMsg := domain.NewMessage(order.ID, domain.ActionRelease, domain.TextContent("funds released, paying your invoice"))
	if err := h.notify(ctx, order.BuyerPubkey, buyerMsg); err != nil {
		return fmt.Errorf("notify buyer: %w", err)
	}
	sellerMsg := domain.NewMessage(order.ID, domain.ActionRelease, domain.TextContent("escrow settled"))
	if err := h.notify(ctx, order.SellerPubkey, sellerMsg); err != nil {
		return fmt.Errorf("notify seller: %w", err)
	}

	go h.payBuyer(order.ID, order.BuyerInvoice, order.AmountSats)
	return nil
}

// payBuyer runs the outbound payout for a settled order and records its
// terminal status. A failed payout leaves the order Settled; the failure is
// logged for operator reconciliation.
func (h *OrderProtocolHandler) payBuyer(orderID, invoice string, amountSats int64) {
	ctx := context.Background()
	sink := make(chan PaymentUpdate, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range sink {
			switch update.Status {
			case domain.PaymentSucceeded:
				metrics.Payments.WithLabelValues("succeeded").Inc()
				h.log.Info("buyer payout succeeded", zap.String("order_id", orderID), zap.String("hash", update.Hash))
			case domain.PaymentFailed:
				metrics.Payments.WithLabelValues("failed").Inc()
				h.log.Error("buyer payout failed",
					zap.String("order_id", orderID),
					zap.String("hash", update.Hash),
					zap.String("reason", update.FailureReason))
			}
		}
	}()

	err := h.payments.SendPayment(ctx, invoice, amountSats, sink)
	close(sink)
	<-done
	if err != nil {
		if errors.Is(err, domain.ErrDuplicatePayment) {
			h.log.Info("buyer payout already attempted", zap.String("order_id", orderID))
			return
		}
		h.log.Error("buyer payout error", zap.String("order_id", orderID), zap.Error(err))
	}
}

// HandleCancel processes a cancellation request. While Active either party
// may cancel unilaterally; once fiat is declared sent, cancellation needs
// both parties.
func (h *OrderProtocolHandler) HandleCancel(ctx context.Context, msg domain.Message, sender string) error {
	order, err := h.store.Load(ctx, msg.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.log.Error("cancel: order not found", zap.String("order_id", msg.OrderID))
			return nil
		}
		return fmt.Errorf("load order: %w", err)
	}

	if sender != order.BuyerPubkey && sender != order.SellerPubkey {
		return h.cantDo(ctx, order.ID, sender)
	}

	switch order.Status {
	case domain.StatusActive:
		return h.cancelOrder(ctx, order, domain.StatusCanceled)

	case domain.StatusFiatSent:
		if order.CancelInitiator == "" {
			order.CancelInitiator = sender
			if err := h.store.Save(ctx, order); err != nil {
				return fmt.Errorf("save order: %w", err)
			}
			counterparty := order.BuyerPubkey
			if sender == order.BuyerPubkey {
				counterparty = order.SellerPubkey
			}
			ask := domain.NewMessage(order.ID, domain.ActionCancel, domain.TextContent("counterparty requests a cooperative cancel"))
			return h.notify(ctx, counterparty, ask)
		}
		if order.CancelInitiator == sender {
			return h.cantDo(ctx, order.ID, sender)
		}
		return h.cancelOrder(ctx, order, domain.StatusCooperativelyCanceled)

	default:
		return h.cantDo(ctx, order.ID, sender)
	}
}

// cancelOrder releases the hold invoice, persists the terminal status and
// notifies both parties.
func (h *OrderProtocolHandler) cancelOrder(ctx context.Context, order *domain.Order, to domain.Status) error {
	if order.PaymentHash != "" {
		if err := h.holds.CancelHoldInvoice(ctx, order.PaymentHash); err != nil {
			return err
		}
		metrics.InvoicesCanceled.Inc()
		if err := h.vault.Delete(ctx, order.PaymentHash); err != nil {
			h.log.Warn("cancel: deleting vaulted preimage failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if err := order.Transition(to); err != nil {
		return err
	}
	if err := h.store.Save(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(to)).Inc()

	note := domain.NewMessage(order.ID, domain.ActionCancel, domain.TextContent("order canceled, escrow released"))
	if err := h.notify(ctx, order.SellerPubkey, note); err != nil {
		return fmt.Errorf("notify seller: %w", err)
	}
	if err := h.notify(ctx, order.BuyerPubkey, note); err != nil {
		return fmt.Errorf("notify buyer: %w", err)
	}
	return nil
}

// HandleDispute opens a dispute on an order whose fiat leg is contested.
// The hold invoice stays untouched for the arbiter.
func (h *OrderProtocolHandler) HandleDispute(ctx context.Context, msg domain.Message, sender string) error {
	order, err := h.store.Load(ctx, msg.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.log.Error("dispute: order not found", zap.String("order_id", msg.OrderID))
			return nil
		}
		return fmt.Errorf("load order: %w", err)
	}

	if order.Status != domain.StatusFiatSent {
		return h.cantDo(ctx, order.ID, sender)
	}
	if sender != order.BuyerPubkey && sender != order.SellerPubkey {
		return h.cantDo(ctx, order.ID, sender)
	}

	if err := order.Transition(domain.StatusDisputed); err != nil {
		return err
	}
	if err := h.store.Save(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(domain.StatusDisputed)).Inc()

	note := domain.NewMessage(order.ID, domain.ActionDispute, domain.TextContent("a dispute was opened on this order"))
	if err := h.notify(ctx, order.SellerPubkey, note); err != nil {
		return fmt.Errorf("notify seller: %w", err)
	}
	if err := h.notify(ctx, order.BuyerPubkey, note); err != nil {
		return fmt.Errorf("notify buyer: %w", err)
	}
	return nil
}

// cantDo replies to a rejected sender. Rejections are benign; a failure to
// deliver the reply still propagates so the supervisor can retry.
func (h *OrderProtocolHandler) cantDo(ctx context.Context, orderID, recipient string) error {
	msg := domain.NewMessage(orderID, domain.ActionCantDo, domain.TextContent(cantDoText))
	return h.notify(ctx, recipient, msg)
}

func (h *OrderProtocolHandler) notify(ctx context.Context, recipient string, msg domain.Message) error {
	payload, err := h.sealer.Seal(msg)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}
	return h.messenger.Send(ctx, recipient, payload)
}
