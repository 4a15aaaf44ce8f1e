package settlement_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/adapters/mock"
	"github.com/diazemiliano/mostro/domain"
	"github.com/diazemiliano/mostro/settlement"
)

func newHolds(node *mock.MockLightningClient) *settlement.HoldInvoiceManager {
	return settlement.NewHoldInvoiceManager(node, 144, zap.NewNop())
}

func TestCreateHoldInvoiceHashMatchesPreimage(t *testing.T) {
	node := mock.NewMockLightningClient()
	created, err := newHolds(node).CreateHoldInvoice(context.Background(), "order 1", 21_000)
	require.NoError(t, err)

	preimage, err := hex.DecodeString(created.Preimage)
	require.NoError(t, err)
	require.Len(t, preimage, 32)

	hash := sha256.Sum256(preimage)
	assert.Equal(t, hex.EncodeToString(hash[:]), created.Hash)
	assert.NotEmpty(t, created.PaymentRequest)

	state, ok := node.InvoiceState(created.Hash)
	require.True(t, ok, "invoice must be registered on the node")
	assert.Equal(t, domain.InvoiceOpen, state)
}

func TestCreateHoldInvoicePreimagesAreUnique(t *testing.T) {
	node := mock.NewMockLightningClient()
	holds := newHolds(node)

	first, err := holds.CreateHoldInvoice(context.Background(), "a", 1_000)
	require.NoError(t, err)
	second, err := holds.CreateHoldInvoice(context.Background(), "b", 1_000)
	require.NoError(t, err)

	assert.NotEqual(t, first.Preimage, second.Preimage)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestSettleHoldInvoice(t *testing.T) {
	node := mock.NewMockLightningClient()
	holds := newHolds(node)
	ctx := context.Background()

	created, err := holds.CreateHoldInvoice(ctx, "order 1", 21_000)
	require.NoError(t, err)

	require.NoError(t, holds.SettleHoldInvoice(ctx, created.Preimage))
	state, _ := node.InvoiceState(created.Hash)
	assert.Equal(t, domain.InvoiceSettled, state)
}

func TestSettleHoldInvoiceRejectsMalformedPreimage(t *testing.T) {
	holds := newHolds(mock.NewMockLightningClient())
	ctx := context.Background()

	assert.ErrorIs(t, holds.SettleHoldInvoice(ctx, "not hex"), domain.ErrInvalidPreimage)
	assert.ErrorIs(t, holds.SettleHoldInvoice(ctx, "abcd"), domain.ErrInvalidPreimage, "short preimages are invalid")
}

func TestSettleHoldInvoiceWrongPreimage(t *testing.T) {
	node := mock.NewMockLightningClient()
	holds := newHolds(node)
	ctx := context.Background()

	created, err := holds.CreateHoldInvoice(ctx, "order 1", 21_000)
	require.NoError(t, err)

	wrong := make([]byte, 32)
	require.Error(t, holds.SettleHoldInvoice(ctx, hex.EncodeToString(wrong)))
	state, _ := node.InvoiceState(created.Hash)
	assert.Equal(t, domain.InvoiceOpen, state)
}

func TestCancelHoldInvoice(t *testing.T) {
	node := mock.NewMockLightningClient()
	holds := newHolds(node)
	ctx := context.Background()

	created, err := holds.CreateHoldInvoice(ctx, "order 1", 21_000)
	require.NoError(t, err)

	require.NoError(t, holds.CancelHoldInvoice(ctx, created.Hash))
	state, _ := node.InvoiceState(created.Hash)
	assert.Equal(t, domain.InvoiceCanceled, state)
}

func TestSubscribeInvoiceForwardsUntilTerminal(t *testing.T) {
	node := mock.NewMockLightningClient()
	holds := newHolds(node)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	created, err := holds.CreateHoldInvoice(ctx, "order 1", 21_000)
	require.NoError(t, err)

	sink := make(chan settlement.InvoiceUpdate, 8)
	done := make(chan error, 1)
	go func() { done <- holds.SubscribeInvoice(ctx, created.Hash, sink) }()
	require.Eventually(t, func() bool { return node.Subscribers(created.Hash) == 1 },
		time.Second, 10*time.Millisecond)

	node.SimulateInvoiceAccepted(created.Hash)
	update := <-sink
	assert.Equal(t, domain.InvoiceAccepted, update.State)
	assert.Equal(t, created.Hash, update.Hash)

	require.NoError(t, holds.SettleHoldInvoice(ctx, created.Preimage))
	update = <-sink
	assert.Equal(t, domain.InvoiceSettled, update.State)

	require.NoError(t, <-done, "subscription ends cleanly when the node stream closes")
}
