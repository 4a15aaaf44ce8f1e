package mock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/diazemiliano/mostro/domain"
	"github.com/diazemiliano/mostro/settlement"
)

// heldInvoice tracks one simulated hold invoice.
type heldInvoice struct {
	hash  string
	memo  string
	amt   int64
	state domain.InvoiceState
	subs  []chan settlement.InvoiceUpdate
}

// MockLightningClient implements settlement.LightningClient for testing and
// demos. Invoice states are driven by SimulateInvoiceAccepted and friends;
// payments succeed by default and can be scripted.
type MockLightningClient struct {
	mu       sync.Mutex
	invoices map[string]*heldInvoice
	payments map[string]int    // payment hash (hex) -> send attempts
	payReqs  map[string]string // payment request -> payment hash (hex)
	amounts  map[string]int64  // payment hash (hex) -> last amount sent

	// AddErr, SettleErr, CancelErr and SendErr inject node failures.
	AddErr    error
	SettleErr error
	CancelErr error
	SendErr   error

	// PaymentScript, when set, is streamed for every SendPayment instead of
	// the default InFlight/Succeeded pair.
	PaymentScript []settlement.PaymentUpdate
}

// NewMockLightningClient creates an empty mock node.
func NewMockLightningClient() *MockLightningClient {
	return &MockLightningClient{
		invoices: make(map[string]*heldInvoice),
		payments: make(map[string]int),
		payReqs:  make(map[string]string),
		amounts:  make(map[string]int64),
	}
}

// AddHoldInvoice registers a simulated hold invoice.
func (m *MockLightningClient) AddHoldInvoice(ctx context.Context, memo string, hash []byte, amountSats int64, cltvDelta uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AddErr != nil {
		return "", m.AddErr
	}

	hashHex := hex.EncodeToString(hash)
	m.invoices[hashHex] = &heldInvoice{
		hash:  hashHex,
		memo:  memo,
		amt:   amountSats,
		state: domain.InvoiceOpen,
	}
	return "lnmock1" + hashHex[:16], nil
}

// SubscribeSingleInvoice returns a channel fed by the Simulate helpers.
func (m *MockLightningClient) SubscribeSingleInvoice(ctx context.Context, hash []byte) (<-chan settlement.InvoiceUpdate, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hashHex := hex.EncodeToString(hash)
	inv, ok := m.invoices[hashHex]
	if !ok {
		return nil, nil, fmt.Errorf("unknown invoice %s", hashHex)
	}

	updates := make(chan settlement.InvoiceUpdate, 8)
	errs := make(chan error, 1)
	inv.subs = append(inv.subs, updates)

	// A real node reports the current state on subscribe.
	if inv.state != domain.InvoiceOpen {
		updates <- settlement.InvoiceUpdate{Hash: inv.hash, State: inv.state, Amt: inv.amt}
	}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closeSubs(inv)
	}()

	return updates, errs, nil
}

// SettleInvoice verifies the preimage against a held invoice and settles it.
func (m *MockLightningClient) SettleInvoice(ctx context.Context, preimage []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SettleErr != nil {
		return m.SettleErr
	}

	hash := sha256.Sum256(preimage)
	hashHex := hex.EncodeToString(hash[:])
	inv, ok := m.invoices[hashHex]
	if !ok {
		return fmt.Errorf("no invoice for preimage hash %s", hashHex)
	}
	if inv.state.Terminal() {
		return fmt.Errorf("invoice %s already %s", hashHex, inv.state)
	}

	inv.state = domain.InvoiceSettled
	m.push(inv)
	m.closeSubs(inv)
	return nil
}

// CancelInvoice releases a held invoice without payment.
func (m *MockLightningClient) CancelInvoice(ctx context.Context, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelErr != nil {
		return m.CancelErr
	}

	hashHex := hex.EncodeToString(hash)
	inv, ok := m.invoices[hashHex]
	if !ok {
		return fmt.Errorf("unknown invoice %s", hashHex)
	}
	if inv.state == domain.InvoiceSettled {
		return fmt.Errorf("invoice %s already settled", hashHex)
	}

	inv.state = domain.InvoiceCanceled
	m.push(inv)
	m.closeSubs(inv)
	return nil
}

// HasPayment reports whether SendPayment was ever called for the hash.
func (m *MockLightningClient) HasPayment(ctx context.Context, hash []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[hex.EncodeToString(hash)] > 0, nil
}

// SendPayment records the attempt under the invoice's payment hash (see
// RegisterInvoice) and streams the scripted updates, so a later HasPayment
// for that hash reports true exactly like a real node's payment database.
func (m *MockLightningClient) SendPayment(ctx context.Context, payReq string, amountSats int64, timeout time.Duration) (<-chan settlement.PaymentUpdate, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return nil, nil, m.SendErr
	}

	key := payReq
	if hash, ok := m.payReqs[payReq]; ok {
		key = hash
	}
	m.payments[key]++
	m.amounts[key] = amountSats

	updates := make(chan settlement.PaymentUpdate, 8)
	errs := make(chan error, 1)

	script := m.PaymentScript
	if script == nil {
		script = []settlement.PaymentUpdate{
			{Status: domain.PaymentInFlight},
			{Status: domain.PaymentSucceeded},
		}
	}

	go func() {
		defer close(updates)
		defer close(errs)
		for _, u := range script {
			select {
			case updates <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, errs, nil
}

// RegisterInvoice teaches the mock which payment hash an outbound invoice
// resolves to, mirroring what a real node learns from the invoice itself.
func (m *MockLightningClient) RegisterInvoice(payReq, hashHex string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payReqs[payReq] = hashHex
}

// RecordPaymentHash marks a hash as already attempted, so the next
// SendPayment for it is rejected by the engine's duplicate guard.
func (m *MockLightningClient) RecordPaymentHash(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[hash]++
}

// SendAttempts returns how often SendPayment ran for the given key.
func (m *MockLightningClient) SendAttempts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[key]
}

// LastAmount returns the amount passed to the most recent SendPayment for
// the given key.
func (m *MockLightningClient) LastAmount(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.amounts[key]
}

// SimulateInvoiceAccepted pushes an ACCEPTED state to all subscribers, as if
// the payer had locked funds into the hold invoice.
func (m *MockLightningClient) SimulateInvoiceAccepted(hashHex string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv, ok := m.invoices[hashHex]; ok {
		inv.state = domain.InvoiceAccepted
		m.push(inv)
	}
}

// Subscribers returns how many streams are open on a simulated invoice.
func (m *MockLightningClient) Subscribers(hashHex string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[hashHex]
	if !ok {
		return 0
	}
	return len(inv.subs)
}

// InvoiceState returns the current state of a simulated invoice.
func (m *MockLightningClient) InvoiceState(hashHex string) (domain.InvoiceState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[hashHex]
	if !ok {
		return "", false
	}
	return inv.state, true
}

// push fans the invoice's current state out to subscribers. Callers hold mu.
func (m *MockLightningClient) push(inv *heldInvoice) {
	for _, sub := range inv.subs {
		select {
		case sub <- settlement.InvoiceUpdate{Hash: inv.hash, State: inv.state, Amt: inv.amt}:
		default:
		}
	}
}

// closeSubs ends all subscriptions of an invoice. Callers hold mu.
func (m *MockLightningClient) closeSubs(inv *heldInvoice) {
	for _, sub := range inv.subs {
		close(sub)
	}
	inv.subs = nil
}
