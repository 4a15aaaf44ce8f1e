package mock

import (
	"context"
	"sync"

	"github.com/diazemiliano/mostro/settlement"
)

// SentEnvelope is one payload captured by the MockPeerMessenger.
type SentEnvelope struct {
	Recipient string
	Payload   []byte
}

// MockPeerMessenger implements settlement.PeerMessenger by recording every
// send.
type MockPeerMessenger struct {
	mu   sync.Mutex
	sent []SentEnvelope

	// SendErr injects a transport failure.
	SendErr error
}

// NewMockPeerMessenger creates an empty messenger.
func NewMockPeerMessenger() *MockPeerMessenger {
	return &MockPeerMessenger{}
}

// Send records the envelope.
func (m *MockPeerMessenger) Send(ctx context.Context, recipient string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, SentEnvelope{Recipient: recipient, Payload: payload})
	return nil
}

// Sent returns all captured envelopes.
func (m *MockPeerMessenger) Sent() []SentEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEnvelope(nil), m.sent...)
}

// SentTo returns the envelopes addressed to one recipient.
func (m *MockPeerMessenger) SentTo(recipient string) []SentEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SentEnvelope
	for _, env := range m.sent {
		if env.Recipient == recipient {
			out = append(out, env)
		}
	}
	return out
}

// StubDecoder implements settlement.InvoiceDecoder with a fixed mapping of
// invoice strings to decoded results.
type StubDecoder struct {
	Invoices map[string]*settlement.DecodedInvoice

	// Err is returned for any invoice not in the map.
	Err error
}

// Decode looks the invoice up in the fixed mapping.
func (d *StubDecoder) Decode(invoice string) (*settlement.DecodedInvoice, error) {
	if decoded, ok := d.Invoices[invoice]; ok {
		return decoded, nil
	}
	if d.Err != nil {
		return nil, d.Err
	}
	return nil, errUnknownInvoice
}

var errUnknownInvoice = errStr("unknown invoice")

type errStr string

func (e errStr) Error() string { return string(e) }
