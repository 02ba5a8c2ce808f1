// Package txn records the payment transactions produced by settled bills.
package txn

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/hotel-billing/internal/db"
	"github.com/noah-isme/hotel-billing/internal/money"
	"github.com/noah-isme/hotel-billing/internal/settlement"
)

// Transaction is one instrument's share of a settlement. A split tender
// produces two rows sharing a reference.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	Amount        money.Money       `json:"amount"`
	PaymentMethod settlement.Method `json:"paymentMethod"`
	Purpose       string            `json:"purpose"`
	Reference     string            `json:"reference"`
	CreatedAt     time.Time         `json:"createdAt"`
}

type Store interface {
	Insert(ctx context.Context, t Transaction) (Transaction, error)
	ListByReference(ctx context.Context, reference string) ([]Transaction, error)
}

// NewStore returns a Store over the transactions table. conn may be a pgx.Tx.
func NewStore(conn db.DBTX) *PGStore {
	return &PGStore{db: conn}
}

type PGStore struct {
	db db.DBTX
}

const txnColumns = `id, amount, payment_method, purpose, reference, created_at`

func scanTxn(row pgx.Row) (Transaction, error) {
	var (
		t      Transaction
		method string
	)
	if err := row.Scan(&t.ID, &t.Amount, &method, &t.Purpose, &t.Reference, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.PaymentMethod = settlement.Method(method)
	return t, nil
}

func (s *PGStore) Insert(ctx context.Context, t Transaction) (Transaction, error) {
	if s == nil || s.db == nil {
		return Transaction{}, db.ErrUnavailable
	}
	return scanTxn(s.db.QueryRow(ctx, `INSERT INTO transactions (amount, payment_method, purpose, reference)
VALUES ($1, $2, $3, $4) RETURNING `+txnColumns,
		t.Amount, string(t.PaymentMethod), t.Purpose, strings.TrimSpace(t.Reference)))
}

func (s *PGStore) ListByReference(ctx context.Context, reference string) ([]Transaction, error) {
	if s == nil || s.db == nil {
		return nil, db.ErrUnavailable
	}
	rows, err := s.db.Query(ctx, `SELECT `+txnColumns+` FROM transactions
WHERE reference = $1 ORDER BY created_at ASC, id ASC`, strings.TrimSpace(reference))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
