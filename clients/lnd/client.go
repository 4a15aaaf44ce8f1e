package lnd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"gopkg.in/macaroon.v2"

	"github.com/diazemiliano/mostro/domain"
	"github.com/diazemiliano/mostro/settlement"
)

// Client implements settlement.LightningClient using lnrpc.
type Client struct {
	lnClient       lnrpc.LightningClient
	routerClient   routerrpc.RouterClient
	invoicesClient invoicesrpc.InvoicesClient
	conn           *grpc.ClientConn
}

// Config holds connection configuration.
type Config struct {
	Host         string
	TLSCertPath  string
	MacaroonPath string
}

// NewClient creates a new LND client.
func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS cert: %v", err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read macaroon: %v", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal macaroon: %v", err)
	}

	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("failed to create macaroon credential: %v", err)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macCreds),
	}

	conn, err := grpc.Dial(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial LND: %v", err)
	}

	return &Client{
		lnClient:       lnrpc.NewLightningClient(conn),
		routerClient:   routerrpc.NewRouterClient(conn),
		invoicesClient: invoicesrpc.NewInvoicesClient(conn),
		conn:           conn,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NodeInfo contains basic information about the connected node.
type NodeInfo struct {
	Pubkey  string
	Alias   string
	Network string
	Synced  bool
}

// GetInfo returns basic information about the connected LND node.
func (c *Client) GetInfo(ctx context.Context) (*NodeInfo, error) {
	resp, err := c.lnClient.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, err
	}
	return &NodeInfo{
		Pubkey:  resp.IdentityPubkey,
		Alias:   resp.Alias,
		Network: resp.Chains[0].Network,
		Synced:  resp.SyncedToChain,
	}, nil
}

// AddHoldInvoice adds a hold invoice keyed on hash to the LND node.
func (c *Client) AddHoldInvoice(ctx context.Context, memo string, hash []byte, amountSats int64, cltvDelta uint64) (string, error) {
	req := &invoicesrpc.AddHoldInvoiceRequest{
		Memo:       memo,
		Hash:       hash,
		Value:      amountSats,
		CltvExpiry: cltvDelta,
	}

	resp, err := c.invoicesClient.AddHoldInvoice(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to add hold invoice: %v", err)
	}

	return resp.PaymentRequest, nil
}

// SettleInvoice settles a hold invoice with the given preimage.
func (c *Client) SettleInvoice(ctx context.Context, preimage []byte) error {
	if _, err := c.invoicesClient.SettleInvoice(ctx, &invoicesrpc.SettleInvoiceMsg{
		Preimage: preimage,
	}); err != nil {
		return fmt.Errorf("failed to settle invoice: %v", err)
	}
	return nil
}

// CancelInvoice cancels a hold invoice.
func (c *Client) CancelInvoice(ctx context.Context, hash []byte) error {
	if _, err := c.invoicesClient.CancelInvoice(ctx, &invoicesrpc.CancelInvoiceMsg{
		PaymentHash: hash,
	}); err != nil {
		return fmt.Errorf("failed to cancel invoice: %v", err)
	}
	return nil
}

// SubscribeSingleInvoice subscribes to updates for a specific invoice.
func (c *Client) SubscribeSingleInvoice(ctx context.Context, hash []byte) (<-chan settlement.InvoiceUpdate, <-chan error, error) {
	req := &invoicesrpc.SubscribeSingleInvoiceRequest{
		RHash: hash,
	}

	stream, err := c.invoicesClient.SubscribeSingleInvoice(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to invoice: %v", err)
	}

	updateChan := make(chan settlement.InvoiceUpdate)
	errChan := make(chan error, 1)

	go func() {
		defer close(updateChan)
		defer close(errChan)

		for {
			inv, err := stream.Recv()
			if err != nil {
				errChan <- err
				return
			}

			update := settlement.InvoiceUpdate{
				Hash:  fmt.Sprintf("%x", inv.RHash),
				State: mapInvoiceState(inv.State),
				Amt:   inv.Value,
			}

			select {
			case updateChan <- update:
			case <-ctx.Done():
				return
			}

			// The single-invoice stream stays open after terminal states in
			// some LND versions; close it ourselves to not leak goroutines.
			if update.State.Terminal() {
				return
			}
		}
	}()

	return updateChan, errChan, nil
}

// HasPayment reports whether the node already tracks a payment for hash.
// TrackPaymentV2 fails with NotFound for hashes that were never attempted.
func (c *Client) HasPayment(ctx context.Context, hash []byte) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.routerClient.TrackPaymentV2(ctx, &routerrpc.TrackPaymentRequest{
		PaymentHash:       hash,
		NoInflightUpdates: true,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to track payment: %v", err)
	}

	// The stream opens lazily; the lookup error surfaces on the first Recv.
	if _, err := stream.Recv(); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to track payment: %v", err)
	}
	return true, nil
}

// SendPayment sends a payment for the given payment request and streams its
// status updates. amountSats must be 0 when the invoice carries an amount.
func (c *Client) SendPayment(ctx context.Context, payReq string, amountSats int64, timeout time.Duration) (<-chan settlement.PaymentUpdate, <-chan error, error) {
	req := &routerrpc.SendPaymentRequest{
		PaymentRequest: payReq,
		TimeoutSeconds: int32(timeout / time.Second),
		Amt:            amountSats,
	}

	stream, err := c.routerClient.SendPaymentV2(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send payment: %v", err)
	}

	updateChan := make(chan settlement.PaymentUpdate)
	errChan := make(chan error, 1)

	go func() {
		defer close(updateChan)
		defer close(errChan)

		for {
			payment, err := stream.Recv()
			if err != nil {
				errChan <- err
				return
			}

			update := settlement.PaymentUpdate{
				Hash:     payment.PaymentHash,
				Status:   mapPaymentStatus(payment.Status),
				Preimage: payment.PaymentPreimage,
			}
			if payment.Status == lnrpc.Payment_FAILED {
				update.FailureReason = payment.FailureReason.String()
			}

			select {
			case updateChan <- update:
			case <-ctx.Done():
				return
			}

			if update.Status.Terminal() {
				return
			}
		}
	}()

	return updateChan, errChan, nil
}

func mapInvoiceState(state lnrpc.Invoice_InvoiceState) domain.InvoiceState {
	switch state {
	case lnrpc.Invoice_ACCEPTED:
		return domain.InvoiceAccepted
	case lnrpc.Invoice_SETTLED:
		return domain.InvoiceSettled
	case lnrpc.Invoice_CANCELED:
		return domain.InvoiceCanceled
	default:
		return domain.InvoiceOpen
	}
}

func mapPaymentStatus(status lnrpc.Payment_PaymentStatus) domain.PaymentStatus {
	switch status {
	case lnrpc.Payment_IN_FLIGHT:
		return domain.PaymentInFlight
	case lnrpc.Payment_SUCCEEDED:
		return domain.PaymentSucceeded
	case lnrpc.Payment_FAILED:
		return domain.PaymentFailed
	default:
		return domain.PaymentNotAttempted
	}
}
