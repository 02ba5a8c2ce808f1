// Package taxrule persists the property's tax rules and exposes admin endpoints for them.
package taxrule

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/hotel-billing/internal/db"
	"github.com/noah-isme/hotel-billing/internal/pricing"
)

var ErrNotFound = errors.New("taxrule: not found")

// Store reads and writes tax rules.
type Store interface {
	List(ctx context.Context) ([]pricing.TaxRule, error)
	// Active returns the rules that currently apply to bills.
	Active(ctx context.Context) ([]pricing.TaxRule, error)
	Create(ctx context.Context, rule pricing.TaxRule) (pricing.TaxRule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (pricing.TaxRule, error)
}

func NewStore(conn db.DBTX) *PGStore {
	return &PGStore{db: conn}
}

type PGStore struct {
	db db.DBTX
}

const ruleColumns = `id, tax_type, name, percent::text, is_active`

func scanRule(row pgx.Row) (pricing.TaxRule, error) {
	var (
		rule    pricing.TaxRule
		kind    string
		percent string
	)
	if err := row.Scan(&rule.ID, &kind, &rule.Name, &percent, &rule.IsActive); err != nil {
		return pricing.TaxRule{}, err
	}
	rule.Type = pricing.TaxType(kind)
	p, err := decimal.NewFromString(percent)
	if err != nil {
		return pricing.TaxRule{}, err
	}
	rule.Percent = p
	return rule, nil
}

func (s *PGStore) query(ctx context.Context, sql string, args ...any) ([]pricing.TaxRule, error) {
	if s == nil || s.db == nil {
		return nil, db.ErrUnavailable
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pricing.TaxRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *PGStore) List(ctx context.Context) ([]pricing.TaxRule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM tax_rules ORDER BY created_at ASC`)
}

// Active keeps insertion order; the cascade re-sorts by type.
func (s *PGStore) Active(ctx context.Context) ([]pricing.TaxRule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM tax_rules WHERE is_active ORDER BY created_at ASC`)
}

func (s *PGStore) Create(ctx context.Context, rule pricing.TaxRule) (pricing.TaxRule, error) {
	if s == nil || s.db == nil {
		return pricing.TaxRule{}, db.ErrUnavailable
	}
	return scanRule(s.db.QueryRow(ctx, `INSERT INTO tax_rules (tax_type, name, percent, is_active)
VALUES ($1, $2, $3::numeric, $4) RETURNING `+ruleColumns,
		string(rule.Type), rule.Name, rule.Percent.String(), rule.IsActive))
}

func (s *PGStore) SetActive(ctx context.Context, id uuid.UUID, active bool) (pricing.TaxRule, error) {
	if s == nil || s.db == nil {
		return pricing.TaxRule{}, db.ErrUnavailable
	}
	rule, err := scanRule(s.db.QueryRow(ctx, `UPDATE tax_rules SET is_active = $2, updated_at = NOW()
WHERE id = $1 RETURNING `+ruleColumns, id, active))
	if db.IsNoRows(err) {
		return pricing.TaxRule{}, ErrNotFound
	}
	return rule, err
}
