package domain

// Action identifies the semantic step a protocol message carries.
type Action string

const (
	ActionFiatSent Action = "FiatSent"
	ActionRelease  Action = "Release"
	ActionCancel   Action = "Cancel"
	ActionDispute  Action = "Dispute"
	ActionCantDo   Action = "CantDo"

	// ActionEscrowFunded tells both parties the hold invoice was accepted
	// and the trade can proceed.
	ActionEscrowFunded Action = "EscrowFunded"
)

// ContentType tags the payload variant of a message.
type ContentType string

const (
	ContentText           ContentType = "text"
	ContentPeer           ContentType = "peer"
	ContentPaymentRequest ContentType = "payment_request"
)

// Peer discloses a counterparty identity.
type Peer struct {
	Pubkey string `json:"pubkey"`
}

// Content is the tagged payload of a message. Exactly the field matching
// Type is set.
type Content struct {
	Type           ContentType `json:"type"`
	Text           string      `json:"text,omitempty"`
	Peer           *Peer       `json:"peer,omitempty"`
	PaymentRequest string      `json:"payment_request,omitempty"`
}

// Message is the envelope exchanged between counterparties. OrderID is empty
// for messages not tied to an order.
type Message struct {
	Version int      `json:"version"`
	OrderID string   `json:"order_id,omitempty"`
	Action  Action   `json:"action"`
	Content *Content `json:"content,omitempty"`
}

// NewMessage builds a version-0 message for an order.
func NewMessage(orderID string, action Action, content *Content) Message {
	return Message{
		Version: 0,
		OrderID: orderID,
		Action:  action,
		Content: content,
	}
}

// TextContent wraps a plain-text payload.
func TextContent(text string) *Content {
	return &Content{Type: ContentText, Text: text}
}

// PeerContent wraps an identity disclosure.
func PeerContent(pubkey string) *Content {
	return &Content{Type: ContentPeer, Peer: &Peer{Pubkey: pubkey}}
}
