package events

import (
	"context"

	"github.com/noah-isme/hotel-billing/internal/queue"
)

// ReceiptKind is the queue kind consumed by the receipt dispatcher.
const ReceiptKind = "receipt-dispatch"

// Enqueuer is the slice of queue.Enqueuer the notifier needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// ReceiptNotifier enqueues a receipt-dispatch task for every settled bill.
// The event id is the idempotency key so a re-emitted event is not printed twice.
type ReceiptNotifier struct {
	Queue Enqueuer
}

func (n ReceiptNotifier) Notify(ctx context.Context, ev Event) error {
	if n.Queue == nil || ev.Topic != TopicBillSettled {
		return nil
	}
	return n.Queue.Enqueue(ctx, queue.Task{
		Kind:           ReceiptKind,
		Payload:        ev.Payload,
		IdempotencyKey: ev.ID.String(),
	})
}
