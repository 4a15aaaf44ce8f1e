// Package sqlite persists orders and vaulted preimages in a local SQLite
// database. SQLite's single-writer transactions give the per-id write
// serialization the settlement engine requires.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/diazemiliano/mostro/domain"
)

// Store implements settlement.OrderStore and settlement.PreimageVault.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed initializes) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			amount_sats INTEGER NOT NULL,
			fiat_code TEXT,
			fiat_amount TEXT,
			buyer_pubkey TEXT,
			seller_pubkey TEXT,
			buyer_invoice TEXT,
			payment_hash TEXT,
			cancel_initiator TEXT,
			event_id TEXT,
			created_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS preimages (
			payment_hash TEXT PRIMARY KEY,
			preimage TEXT NOT NULL,
			created_at TIMESTAMP
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	return &Store{db: db}, nil
}

// Load fetches an order by id.
func (s *Store) Load(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, amount_sats, fiat_code, fiat_amount, buyer_pubkey,
		       seller_pubkey, buyer_invoice, payment_hash, cancel_initiator,
		       event_id, created_at
		FROM orders WHERE id = ?`, id)

	var o domain.Order
	var fiatAmount string
	err := row.Scan(&o.ID, &o.Status, &o.AmountSats, &o.FiatCode, &fiatAmount,
		&o.BuyerPubkey, &o.SellerPubkey, &o.BuyerInvoice, &o.PaymentHash,
		&o.CancelInitiator, &o.EventID, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %v", err)
	}

	if fiatAmount != "" {
		o.FiatAmount, err = decimal.NewFromString(fiatAmount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fiat amount: %v", err)
		}
	}
	return &o, nil
}

// Save persists an order. Inside one immediate transaction the current
// status is re-read and a status change that the state machine forbids is
// rejected, so a handler holding a stale copy cannot clobber a newer state.
func (s *Store) Save(ctx context.Context, o *domain.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %v", err)
	}
	defer tx.Rollback()

	var current domain.Status
	err = tx.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = ?", o.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (id, status, amount_sats, fiat_code, fiat_amount,
				buyer_pubkey, seller_pubkey, buyer_invoice, payment_hash,
				cancel_initiator, event_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.Status, o.AmountSats, o.FiatCode, o.FiatAmount.String(),
			o.BuyerPubkey, o.SellerPubkey, o.BuyerInvoice, o.PaymentHash,
			o.CancelInitiator, o.EventID, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %v", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read current status: %v", err)
	default:
		if current != o.Status && !domain.CanTransition(current, o.Status) {
			return domain.ErrInvalidState
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, amount_sats = ?, fiat_code = ?,
				fiat_amount = ?, buyer_pubkey = ?, seller_pubkey = ?,
				buyer_invoice = ?, payment_hash = ?, cancel_initiator = ?,
				event_id = ?
			WHERE id = ?`,
			o.Status, o.AmountSats, o.FiatCode, o.FiatAmount.String(),
			o.BuyerPubkey, o.SellerPubkey, o.BuyerInvoice, o.PaymentHash,
			o.CancelInitiator, o.EventID, o.ID)
		if err != nil {
			return fmt.Errorf("failed to update order: %v", err)
		}
	}

	return tx.Commit()
}

// ListWatchable returns orders whose hold invoice still needs observation:
// funded but not yet terminal, with a payment hash assigned.
func (s *Store) ListWatchable(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, payment_hash FROM orders
		WHERE payment_hash != '' AND status IN (?, ?)`,
		domain.StatusPending, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %v", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.Status, &o.PaymentHash); err != nil {
			return nil, fmt.Errorf("failed to scan order: %v", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Put vaults a preimage under its payment hash.
func (s *Store) Put(ctx context.Context, hash, preimage string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO preimages (payment_hash, preimage, created_at) VALUES (?, ?, ?)",
		hash, preimage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to vault preimage: %v", err)
	}
	return nil
}

// Get fetches a vaulted preimage.
func (s *Store) Get(ctx context.Context, hash string) (string, error) {
	var preimage string
	err := s.db.QueryRowContext(ctx,
		"SELECT preimage FROM preimages WHERE payment_hash = ?", hash).Scan(&preimage)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrPreimageNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load preimage: %v", err)
	}
	return preimage, nil
}

// Delete removes a vaulted preimage once it is no longer needed.
func (s *Store) Delete(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM preimages WHERE payment_hash = ?", hash)
	if err != nil {
		return fmt.Errorf("failed to delete preimage: %v", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
