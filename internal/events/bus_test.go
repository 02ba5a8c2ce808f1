package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hotel-billing/internal/events"
	"github.com/noah-isme/hotel-billing/internal/queue"
)

type stubStore struct {
	inserted []events.Event
	err      error
}

func (s *stubStore) Insert(_ context.Context, ev events.Event) (events.Event, error) {
	if s.err != nil {
		return events.Event{}, s.err
	}
	ev.ID = uuid.New()
	ev.OccurredAt = time.Now()
	s.inserted = append(s.inserted, ev)
	return ev, nil
}

type captureNotifier struct {
	events []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, ev events.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier, nil}}

	ev, err := bus.Emit(context.Background(), events.TopicBillSettled, " FOLIO-101 ", map[string]any{"grandTotal": "1243.00"})
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	require.Equal(t, "FOLIO-101", store.inserted[0].AggregateID)
	require.JSONEq(t, `{"grandTotal":"1243.00"}`, string(store.inserted[0].Payload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, ev.ID, notifier.events[0].ID)
}

func TestEmitRejectsBadInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}

	_, err := bus.Emit(context.Background(), "order.created", "R1", nil)
	require.ErrorIs(t, err, events.ErrUnknownTopic)

	_, err = bus.Emit(context.Background(), events.TopicBillSettled, "  ", nil)
	require.ErrorIs(t, err, events.ErrAggregateRequired)

	_, err = bus.Emit(context.Background(), events.TopicBillSettled, "R1", []byte("{not json"))
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(context.Background(), events.TopicBillSettled, "R1", nil)
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	boom := errors.New("boom")
	bus := events.Bus{
		Store: &stubStore{},
		Notifiers: []events.Notifier{
			events.NotifierFunc(func(context.Context, events.Event) error { return boom }),
		},
	}
	ev, err := bus.Emit(context.Background(), events.TopicSettlementRejected, "T-7", json.RawMessage(`{"outcome":"short"}`))
	require.ErrorIs(t, err, boom)
	require.NotEqual(t, uuid.Nil, ev.ID)
}

func TestReceiptNotifierEnqueuesSettledBills(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	enq := queue.Enqueuer{R: client, Prefix: "billing"}
	bus := events.Bus{Store: &stubStore{}, Notifiers: []events.Notifier{events.ReceiptNotifier{Queue: enq}}}

	_, err = bus.Emit(context.Background(), events.TopicVoucherRedeemed, "R1", map[string]string{"code": "ROOM100"})
	require.NoError(t, err)
	ready, _, err := enq.Depth(context.Background(), events.ReceiptKind)
	require.NoError(t, err)
	require.Zero(t, ready)

	_, err = bus.Emit(context.Background(), events.TopicBillSettled, "R1", map[string]string{"grandTotal": "1243.00"})
	require.NoError(t, err)
	ready, _, err = enq.Depth(context.Background(), events.ReceiptKind)
	require.NoError(t, err)
	require.Equal(t, int64(1), ready)
}

func TestRecordThenDispatch(t *testing.T) {
	txStore := &stubStore{}
	notifier := &captureNotifier{}
	bus := &events.Bus{Notifiers: []events.Notifier{notifier}}

	ev, err := bus.Record(context.Background(), txStore, events.TopicBillSettled, "FOLIO-9", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(txStore.inserted[0].Payload))
	require.Empty(t, notifier.events)

	require.NoError(t, bus.Dispatch(context.Background(), ev))
	require.Len(t, notifier.events, 1)

	_, err = bus.Record(context.Background(), nil, events.TopicBillSettled, "FOLIO-9", nil)
	require.Error(t, err)
}
