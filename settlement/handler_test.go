package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/adapters/mock"
	"github.com/diazemiliano/mostro/domain"
	"github.com/diazemiliano/mostro/messenger"
	"github.com/diazemiliano/mostro/settlement"
)

const (
	buyerPk  = "9be44b1f6a5c3b61af9b27354b0cad85db6e8a978d4b5f4f7a1908a1fc5b2c33"
	sellerPk = "d91926e0fcdd9f4e15f1ade3bb2c489a6f3b9c52f86a0377ad2c707ffbfb84a2"
	otherPk  = "02b463e91b1f2f8e1f9a5c0d8f3b7e6a4d2c1b0a9f8e7d6c5b4a392817161514"
)

type engine struct {
	node     *mock.MockLightningClient
	store    *mock.MockOrderStore
	vault    *mock.MockPreimageVault
	peers    *mock.MockPeerMessenger
	decoder  *mock.StubDecoder
	holds    *settlement.HoldInvoiceManager
	payments *settlement.PaymentTracker
	handler  *settlement.OrderProtocolHandler
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	e := &engine{
		node:    mock.NewMockLightningClient(),
		store:   mock.NewMockOrderStore(),
		vault:   mock.NewMockPreimageVault(),
		peers:   mock.NewMockPeerMessenger(),
		decoder: &mock.StubDecoder{Invoices: map[string]*settlement.DecodedInvoice{}},
	}

	signer, err := messenger.NewSigner("3333333333333333333333333333333333333333333333333333333333333333")
	require.NoError(t, err)

	log := zap.NewNop()
	e.holds = settlement.NewHoldInvoiceManager(e.node, 144, log)
	e.payments = settlement.NewPaymentTracker(e.node, e.decoder, time.Second, log)
	e.handler = settlement.NewOrderProtocolHandler(e.store, e.peers, signer, e.holds, e.payments, e.vault, log)
	return e
}

// openAll opens every envelope sent to a recipient.
func openAll(t *testing.T, envs []mock.SentEnvelope) []domain.Message {
	t.Helper()
	var msgs []domain.Message
	for _, env := range envs {
		msg, _, err := messenger.Open(env.Payload)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

func activeOrder(id string) domain.Order {
	return domain.Order{
		ID:           id,
		Status:       domain.StatusActive,
		AmountSats:   100_000,
		FiatCode:     "EUR",
		BuyerPubkey:  buyerPk,
		SellerPubkey: sellerPk,
	}
}

func TestFiatSentHappyPath(t *testing.T) {
	e := newEngine(t)
	e.store.Put(activeOrder("42"))

	msg := domain.NewMessage("42", domain.ActionFiatSent, nil)
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg, buyerPk))

	order, ok := e.store.Get("42")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFiatSent, order.Status)

	toSeller := openAll(t, e.peers.SentTo(sellerPk))
	require.Len(t, toSeller, 1)
	assert.Equal(t, domain.ActionFiatSent, toSeller[0].Action)
	require.NotNil(t, toSeller[0].Content)
	require.NotNil(t, toSeller[0].Content.Peer)
	assert.Equal(t, buyerPk, toSeller[0].Content.Peer.Pubkey, "seller learns the buyer identity")

	toBuyer := openAll(t, e.peers.SentTo(buyerPk))
	require.Len(t, toBuyer, 1)
	assert.Equal(t, domain.ActionFiatSent, toBuyer[0].Action)
	assert.Equal(t, sellerPk, toBuyer[0].Content.Peer.Pubkey, "buyer learns the seller identity")
}

func TestFiatSentUnauthorizedSenderAbortsTransition(t *testing.T) {
	e := newEngine(t)
	e.store.Put(activeOrder("42"))

	msg := domain.NewMessage("42", domain.ActionFiatSent, nil)
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg, otherPk))

	order, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusActive, order.Status, "unauthorized sender must not advance the order")

	replies := openAll(t, e.peers.SentTo(otherPk))
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ActionCantDo, replies[0].Action)

	assert.Empty(t, e.peers.SentTo(buyerPk))
	assert.Empty(t, e.peers.SentTo(sellerPk))
}

func TestFiatSentUnknownOrderStaysSilent(t *testing.T) {
	e := newEngine(t)

	msg := domain.NewMessage("99", domain.ActionFiatSent, nil)
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg, buyerPk))

	assert.Empty(t, e.peers.Sent(), "a nonexistent order must not be confirmed or denied")
	assert.Zero(t, e.store.Saves)
}

func TestFiatSentWrongStatusRepliesCantDo(t *testing.T) {
	for _, status := range []domain.Status{
		domain.StatusPending, domain.StatusSettled, domain.StatusCanceled, domain.StatusDisputed,
	} {
		t.Run(string(status), func(t *testing.T) {
			e := newEngine(t)
			order := activeOrder("42")
			order.Status = status
			e.store.Put(order)

			msg := domain.NewMessage("42", domain.ActionFiatSent, nil)
			require.NoError(t, e.handler.HandleMessage(context.Background(), msg, buyerPk))

			got, _ := e.store.Get("42")
			assert.Equal(t, status, got.Status)

			replies := openAll(t, e.peers.SentTo(buyerPk))
			require.Len(t, replies, 1)
			assert.Equal(t, domain.ActionCantDo, replies[0].Action)
			assert.Empty(t, e.peers.SentTo(sellerPk), "no FiatSent notification may leak")
		})
	}
}

func TestFiatSentMissingSellerIsInvariantViolation(t *testing.T) {
	e := newEngine(t)
	order := activeOrder("42")
	order.SellerPubkey = ""
	e.store.Put(order)

	msg := domain.NewMessage("42", domain.ActionFiatSent, nil)
	err := e.handler.HandleMessage(context.Background(), msg, buyerPk)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Empty(t, e.peers.Sent())
}

func TestFiatSentPersistsBeforeNotifying(t *testing.T) {
	e := newEngine(t)
	e.store.Put(activeOrder("42"))
	e.store.SaveErr = assert.AnError

	msg := domain.NewMessage("42", domain.ActionFiatSent, nil)
	err := e.handler.HandleMessage(context.Background(), msg, buyerPk)
	require.Error(t, err)

	assert.Empty(t, e.peers.Sent(), "notifications must not precede persistence")
}

func TestReleaseSettlesAndPaysBuyer(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	created, err := e.holds.CreateHoldInvoice(ctx, "order 42", 100_000)
	require.NoError(t, err)
	require.NoError(t, e.vault.Put(ctx, created.Hash, created.Preimage))

	buyerHash := "aa0000000000000000000000000000000000000000000000000000000000aaaa"
	e.decoder.Invoices["lnbuyerinv"] = &settlement.DecodedInvoice{
		PaymentHash: buyerHash, HasAmount: true, NumSats: 100_000,
	}
	e.node.RegisterInvoice("lnbuyerinv", buyerHash)

	order := activeOrder("42")
	order.Status = domain.StatusFiatSent
	order.PaymentHash = created.Hash
	order.BuyerInvoice = "lnbuyerinv"
	e.store.Put(order)

	msg := domain.NewMessage("42", domain.ActionRelease, nil)
	require.NoError(t, e.handler.HandleMessage(ctx, msg, sellerPk))

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusSettled, got.Status)

	state, ok := e.node.InvoiceState(created.Hash)
	require.True(t, ok)
	assert.Equal(t, domain.InvoiceSettled, state)

	assert.False(t, e.vault.Has(created.Hash), "preimage must leave the vault after settlement")

	require.Eventually(t, func() bool {
		return e.node.SendAttempts(buyerHash) == 1
	}, time.Second, 10*time.Millisecond, "buyer payout must be attempted once")

	assert.Len(t, openAll(t, e.peers.SentTo(buyerPk)), 1)
	assert.Len(t, openAll(t, e.peers.SentTo(sellerPk)), 1)
}

func TestReleaseOnlyBySeller(t *testing.T) {
	e := newEngine(t)
	order := activeOrder("42")
	order.Status = domain.StatusFiatSent
	e.store.Put(order)

	msg := domain.NewMessage("42", domain.ActionRelease, nil)
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg, buyerPk))

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusFiatSent, got.Status)
	replies := openAll(t, e.peers.SentTo(buyerPk))
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ActionCantDo, replies[0].Action)
}

func TestReleaseMissingPreimageIsInvariantViolation(t *testing.T) {
	e := newEngine(t)
	order := activeOrder("42")
	order.Status = domain.StatusFiatSent
	order.PaymentHash = "00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff00ff"
	e.store.Put(order)

	msg := domain.NewMessage("42", domain.ActionRelease, nil)
	err := e.handler.HandleMessage(context.Background(), msg, sellerPk)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusFiatSent, got.Status)
}

func TestReleaseNodeFailurePropagates(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	created, err := e.holds.CreateHoldInvoice(ctx, "order 42", 100_000)
	require.NoError(t, err)
	require.NoError(t, e.vault.Put(ctx, created.Hash, created.Preimage))

	order := activeOrder("42")
	order.Status = domain.StatusFiatSent
	order.PaymentHash = created.Hash
	e.store.Put(order)

	e.node.SettleErr = assert.AnError
	msg := domain.NewMessage("42", domain.ActionRelease, nil)
	require.Error(t, e.handler.HandleMessage(ctx, msg, sellerPk))

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusFiatSent, got.Status, "a failed settle must not mark the order settled")
}

func TestCancelActiveIsUnilateral(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	created, err := e.holds.CreateHoldInvoice(ctx, "order 42", 100_000)
	require.NoError(t, err)
	order := activeOrder("42")
	order.PaymentHash = created.Hash
	e.store.Put(order)

	msg := domain.NewMessage("42", domain.ActionCancel, nil)
	require.NoError(t, e.handler.HandleMessage(ctx, msg, sellerPk))

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusCanceled, got.Status)

	state, _ := e.node.InvoiceState(created.Hash)
	assert.Equal(t, domain.InvoiceCanceled, state)

	assert.Len(t, e.peers.SentTo(buyerPk), 1)
	assert.Len(t, e.peers.SentTo(sellerPk), 1)
}

func TestCancelAfterFiatSentNeedsBothParties(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	created, err := e.holds.CreateHoldInvoice(ctx, "order 42", 100_000)
	require.NoError(t, err)
	order := activeOrder("42")
	order.Status = domain.StatusFiatSent
	order.PaymentHash = created.Hash
	e.store.Put(order)

	msg := domain.NewMessage("42", domain.ActionCancel, nil)

	// First request: recorded, counterparty asked, nothing canceled.
	require.NoError(t, e.handler.HandleMessage(ctx, msg, buyerPk))
	mid, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusFiatSent, mid.Status)
	assert.Equal(t, buyerPk, mid.CancelInitiator)
	state, _ := e.node.InvoiceState(created.Hash)
	assert.NotEqual(t, domain.InvoiceCanceled, state)
	assert.Len(t, e.peers.SentTo(sellerPk), 1)

	// Repeat from the initiator is rejected.
	require.NoError(t, e.handler.HandleMessage(ctx, msg, buyerPk))
	replies := openAll(t, e.peers.SentTo(buyerPk))
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ActionCantDo, replies[0].Action)

	// Counterparty agreement completes the cooperative cancel.
	require.NoError(t, e.handler.HandleMessage(ctx, msg, sellerPk))
	final, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusCooperativelyCanceled, final.Status)
	state, _ = e.node.InvoiceState(created.Hash)
	assert.Equal(t, domain.InvoiceCanceled, state)
}

func TestCancelByOutsiderRejected(t *testing.T) {
	e := newEngine(t)
	e.store.Put(activeOrder("42"))

	msg := domain.NewMessage("42", domain.ActionCancel, nil)
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg, otherPk))

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusActive, got.Status)
	replies := openAll(t, e.peers.SentTo(otherPk))
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ActionCantDo, replies[0].Action)
}

func TestDisputeFromFiatSent(t *testing.T) {
	e := newEngine(t)
	order := activeOrder("42")
	order.Status = domain.StatusFiatSent
	e.store.Put(order)

	msg := domain.NewMessage("42", domain.ActionDispute, nil)
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg, buyerPk))

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusDisputed, got.Status)
	assert.Len(t, e.peers.SentTo(buyerPk), 1)
	assert.Len(t, e.peers.SentTo(sellerPk), 1)
}

func TestDisputeFromActiveRejected(t *testing.T) {
	e := newEngine(t)
	e.store.Put(activeOrder("42"))

	msg := domain.NewMessage("42", domain.ActionDispute, nil)
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg, sellerPk))

	got, _ := e.store.Get("42")
	assert.Equal(t, domain.StatusActive, got.Status)
	replies := openAll(t, e.peers.SentTo(sellerPk))
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ActionCantDo, replies[0].Action)
}
