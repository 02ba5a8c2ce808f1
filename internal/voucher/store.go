package voucher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/hotel-billing/internal/db"
)

// Store persists vouchers. MarkRedeemed must be a single conditional update so that at
// most one caller flips a voucher to redeemed.
type Store interface {
	Registry
	Insert(ctx context.Context, v Voucher) (Voucher, error)
	MarkRedeemed(ctx context.Context, id uuid.UUID, reference string, at time.Time) (bool, error)
	List(ctx context.Context, limit, offset int) ([]Voucher, error)
}

// NewStore constructs a Store over a pool or a transaction.
func NewStore(conn db.DBTX) *PGStore {
	return &PGStore{db: conn}
}

// PGStore is the Postgres-backed voucher store.
type PGStore struct {
	db db.DBTX
}

const voucherColumns = `id, code, discount_type, discount_amount::text, is_active, valid_from, valid_until,
redeemed, redeemed_at, COALESCE(redemption_ref, ''), created_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var (
		v      Voucher
		kind   string
		amount string
	)
	if err := row.Scan(&v.ID, &v.Code, &kind, &amount, &v.IsActive, &v.ValidFrom, &v.ValidUntil,
		&v.Redeemed, &v.RedeemedAt, &v.RedemptionRef, &v.CreatedAt); err != nil {
		return Voucher{}, err
	}
	v.DiscountType = DiscountType(kind)
	parsed, err := parseAmount(amount)
	if err != nil {
		return Voucher{}, fmt.Errorf("voucher %s: %w", v.Code, err)
	}
	v.DiscountAmount = parsed
	return v, nil
}

// FindByCode implements Registry.
func (s *PGStore) FindByCode(ctx context.Context, code string) (Voucher, error) {
	if s == nil || s.db == nil {
		return Voucher{}, db.ErrUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, NormalizeCode(code))
	v, err := scanVoucher(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Voucher{}, ErrNotFound
		}
		return Voucher{}, err
	}
	return v, nil
}

// Insert stores a new voucher and returns it with generated fields populated.
func (s *PGStore) Insert(ctx context.Context, v Voucher) (Voucher, error) {
	if s == nil || s.db == nil {
		return Voucher{}, db.ErrUnavailable
	}
	row := s.db.QueryRow(ctx, `INSERT INTO vouchers (code, discount_type, discount_amount, is_active, valid_from, valid_until)
VALUES ($1, $2, $3::numeric, $4, $5, $6) RETURNING `+voucherColumns,
		NormalizeCode(v.Code), string(v.DiscountType), v.DiscountAmount.String(), v.IsActive, v.ValidFrom, v.ValidUntil)
	created, err := scanVoucher(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Voucher{}, ErrDuplicateCode
		}
		return Voucher{}, err
	}
	return created, nil
}

// MarkRedeemed flips redeemed to true if and only if it is still false. It reports
// whether this call performed the transition.
func (s *PGStore) MarkRedeemed(ctx context.Context, id uuid.UUID, reference string, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, db.ErrUnavailable
	}
	tag, err := s.db.Exec(ctx, `UPDATE vouchers SET redeemed = TRUE, redeemed_at = $2, redemption_ref = NULLIF($3, '')
WHERE id = $1 AND redeemed = FALSE`, id, at, reference)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// List returns vouchers newest first.
func (s *PGStore) List(ctx context.Context, limit, offset int) ([]Voucher, error) {
	if s == nil || s.db == nil {
		return nil, db.ErrUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Voucher, 0, limit)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
