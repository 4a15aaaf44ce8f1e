// Package messenger seals and opens signed protocol envelopes. Identities
// are 32-byte x-only secp256k1 pubkeys in hex; signatures are BIP-340
// schnorr over the SHA-256 of the canonical JSON payload. Transport and
// transport-level encryption belong to the PeerMessenger collaborator, not
// here.
package messenger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/diazemiliano/mostro/domain"
)

// ErrBadSignature means an envelope failed verification.
var ErrBadSignature = errors.New("envelope signature invalid")

// Envelope is the wire shape handed to the PeerMessenger.
type Envelope struct {
	Payload json.RawMessage `json:"payload"`
	Pubkey  string          `json:"pubkey"`
	Sig     string          `json:"sig"`
}

// Signer seals messages under one node identity.
type Signer struct {
	priv   *btcec.PrivateKey
	pubkey string
}

// NewSigner builds a signer from a 32-byte hex private key.
func NewSigner(privHex string) (*Signer, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes of hex")
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	return &Signer{
		priv:   priv,
		pubkey: hex.EncodeToString(schnorr.SerializePubKey(pub)),
	}, nil
}

// Pubkey returns the signer's x-only pubkey in hex.
func (s *Signer) Pubkey() string {
	return s.pubkey
}

// Seal serializes and signs a message into envelope bytes.
func (s *Signer) Seal(msg domain.Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	digest := sha256.Sum256(payload)
	sig, err := schnorr.Sign(s.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	return json.Marshal(Envelope{
		Payload: payload,
		Pubkey:  s.pubkey,
		Sig:     hex.EncodeToString(sig.Serialize()),
	})
}

// Open verifies an envelope and returns the message plus the authenticated
// sender pubkey.
func Open(raw []byte) (domain.Message, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Message{}, "", fmt.Errorf("unmarshal envelope: %w", err)
	}

	pubBytes, err := hex.DecodeString(env.Pubkey)
	if err != nil {
		return domain.Message{}, "", fmt.Errorf("bad pubkey hex: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return domain.Message{}, "", fmt.Errorf("parse pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(env.Sig)
	if err != nil {
		return domain.Message{}, "", fmt.Errorf("bad signature hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return domain.Message{}, "", fmt.Errorf("parse signature: %w", err)
	}

	digest := sha256.Sum256(env.Payload)
	if !sig.Verify(digest[:], pub) {
		return domain.Message{}, "", ErrBadSignature
	}

	var msg domain.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return domain.Message{}, "", fmt.Errorf("unmarshal message: %w", err)
	}
	return msg, env.Pubkey, nil
}
