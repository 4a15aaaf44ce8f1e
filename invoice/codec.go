// Package invoice parses BOLT11 payment requests. Pure, no I/O.
package invoice

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/diazemiliano/mostro/settlement"
)

// Codec decodes payment requests for one Bitcoin network.
type Codec struct {
	params *chaincfg.Params
}

// NewCodec returns a codec for the named network: mainnet, testnet, regtest
// or simnet.
func NewCodec(network string) (*Codec, error) {
	switch strings.ToLower(network) {
	case "mainnet", "bitcoin":
		return &Codec{params: &chaincfg.MainNetParams}, nil
	case "testnet":
		return &Codec{params: &chaincfg.TestNet3Params}, nil
	case "regtest":
		return &Codec{params: &chaincfg.RegressionNetParams}, nil
	case "simnet":
		return &Codec{params: &chaincfg.SimNetParams}, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// Decode parses a payment request and extracts the escrow-relevant fields.
func (c *Codec) Decode(payReq string) (*settlement.DecodedInvoice, error) {
	inv, err := zpay32.Decode(payReq, c.params)
	if err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if inv.PaymentHash == nil {
		return nil, fmt.Errorf("invoice has no payment hash")
	}

	decoded := &settlement.DecodedInvoice{
		PaymentHash: hex.EncodeToString(inv.PaymentHash[:]),
		Expiry:      inv.Expiry(),
	}
	if inv.MilliSat != nil {
		decoded.HasAmount = true
		decoded.NumSats = int64(inv.MilliSat.ToSatoshis())
	}
	if inv.Description != nil {
		decoded.Description = *inv.Description
	}
	return decoded, nil
}
