// Package events persists billing events and fans them out to notifiers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownTopic       = errors.New("events: unknown topic")
	ErrAggregateRequired  = errors.New("events: aggregate reference is required")
	errStoreNotConfigured = errors.New("events: store not configured")
)

// Event is a persisted billing event. AggregateID is the business reference
// the event belongs to (a folio, table or booking number).
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Store persists events.
type Store interface {
	Insert(ctx context.Context, ev Event) (Event, error)
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Bus persists events and dispatches them to every notifier.
type Bus struct {
	Store     Store
	Notifiers []Notifier
}

// Emit records the event, then notifies. The persisted event is returned even
// when a notifier fails; notifier errors are joined.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errStoreNotConfigured
	}
	ev, err := b.Record(ctx, b.Store, topic, aggregateID, payload)
	if err != nil {
		return Event{}, err
	}
	return ev, b.Dispatch(ctx, ev)
}

// Record validates and persists the event through store without notifying.
// Callers writing inside a transaction record first and Dispatch after commit.
func (b *Bus) Record(ctx context.Context, store Store, topic, aggregateID string, payload any) (Event, error) {
	if store == nil {
		return Event{}, errStoreNotConfigured
	}
	topic = strings.TrimSpace(topic)
	if !knownTopic(topic) {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return Event{}, ErrAggregateRequired
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev, err := store.Insert(ctx, Event{Topic: topic, AggregateID: aggregateID, Payload: encoded})
	if err != nil {
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	return ev, nil
}

// Dispatch hands persisted events to every notifier.
func (b *Bus) Dispatch(ctx context.Context, evs ...Event) error {
	if b == nil {
		return nil
	}
	var joined error
	for _, ev := range evs {
		for _, n := range b.Notifiers {
			if n == nil {
				continue
			}
			if err := n.Notify(ctx, ev); err != nil {
				joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
			}
		}
	}
	return joined
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return validJSON(v)
	case []byte:
		return validJSON(v)
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) (json.RawMessage, error) {
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append(json.RawMessage(nil), data...), nil
}
