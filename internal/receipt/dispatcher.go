// Package receipt hands settled bills to the external receipt printer service.
package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/hotel-billing/internal/obs"
	"github.com/noah-isme/hotel-billing/internal/queue"
	"github.com/noah-isme/hotel-billing/internal/resilience"
)

const userAgent = "hotel-billing-receipts/1.0"

// Doer sends a request with retry semantics. resilience.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Dispatcher posts settled bill payloads to Endpoint. An empty endpoint
// disables delivery and tasks are acknowledged without a call.
type Dispatcher struct {
	Endpoint string
	Client   Doer
	Logger   zerolog.Logger
}

// Handle is the queue handler for receipt-dispatch tasks. A rejected receipt is
// logged and dropped; an unavailable endpoint is returned so the queue retries.
func (d Dispatcher) Handle(ctx context.Context, task queue.Task) error {
	endpoint := strings.TrimSpace(d.Endpoint)
	if endpoint == "" {
		obs.ObserveReceipt("skipped", 0)
		return nil
	}
	if d.Client == nil {
		return errors.New("receipt: http client not configured")
	}

	ctx, span := otel.Tracer("receipt.Dispatcher").Start(ctx, "Dispatcher.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("receipt.task_key", task.IdempotencyKey),
		attribute.Int("receipt.attempt", task.Attempt),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(task.Payload))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if task.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", task.IdempotencyKey)
	}

	start := time.Now()
	resp, err := d.Client.Do(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		obs.ObserveReceipt(failureResult(err), elapsed)
		return fmt.Errorf("receipt: deliver: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch outcome := resilience.Classify(resp, nil); outcome {
	case resilience.Rejected:
		obs.ObserveReceipt(outcome.String(), elapsed)
		d.Logger.Warn().Int("status", resp.StatusCode).Str("key", task.IdempotencyKey).Msg("receipt: endpoint rejected payload")
		return nil
	case resilience.Unavailable:
		obs.ObserveReceipt(outcome.String(), elapsed)
		return fmt.Errorf("receipt: deliver: %w", &resilience.UpstreamError{Endpoint: req.URL.Host, StatusCode: resp.StatusCode})
	}
	obs.ObserveReceipt(resilience.Delivered.String(), elapsed)
	d.Logger.Debug().Str("key", task.IdempotencyKey).Dur("elapsed", elapsed).Msg("receipt: delivered")
	return nil
}

func failureResult(err error) string {
	var upstream *resilience.UpstreamError
	switch {
	case errors.Is(err, resilience.ErrOpenCircuit):
		return "circuit_open"
	case errors.As(err, &upstream):
		return resilience.Unavailable.String()
	}
	return "failed"
}
