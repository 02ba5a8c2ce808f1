package checkout

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/hotel-billing/internal/db"
	"github.com/noah-isme/hotel-billing/internal/events"
	"github.com/noah-isme/hotel-billing/internal/txn"
	"github.com/noah-isme/hotel-billing/internal/voucher"
)

// Stores are the writers a settlement touches, bound to one transaction.
type Stores struct {
	Transactions txn.Store
	Vouchers     voucher.Store
	Events       events.Store
}

// UnitOfWork runs fn atomically. When fn returns an error nothing it wrote is kept.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Stores) error) error
}

// PGUnitOfWork opens a Postgres transaction per call.
type PGUnitOfWork struct {
	DB db.TxBeginner
}

func (u PGUnitOfWork) Do(ctx context.Context, fn func(Stores) error) error {
	return db.WithTx(ctx, u.DB, func(tx pgx.Tx) error {
		return fn(Stores{
			Transactions: txn.NewStore(tx),
			Vouchers:     voucher.NewStore(tx),
			Events:       events.NewStore(tx),
		})
	})
}
