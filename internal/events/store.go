package events

import (
	"context"

	"github.com/noah-isme/hotel-billing/internal/db"
)

// NewStore returns a Store over the billing_events table. Pass a pgx.Tx to
// record the event in the same transaction as the settlement.
func NewStore(conn db.DBTX) Store {
	return &pgStore{db: conn}
}

type pgStore struct {
	db db.DBTX
}

func (s *pgStore) Insert(ctx context.Context, ev Event) (Event, error) {
	if s == nil || s.db == nil {
		return Event{}, db.ErrUnavailable
	}
	err := s.db.QueryRow(ctx, `INSERT INTO billing_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, occurred_at`,
		ev.Topic, ev.AggregateID, string(ev.Payload),
	).Scan(&ev.ID, &ev.OccurredAt)
	return ev, err
}
