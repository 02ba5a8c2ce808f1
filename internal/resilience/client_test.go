package resilience_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hotel-billing/internal/resilience"
)

func postReceipt(t *testing.T, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	return req
}

func TestClientRetriesUnavailableAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"ref":"R-1"}`, string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := resilience.Client{
		HTTP:        srv.Client(),
		Breakers:    &resilience.Breakers{Config: resilience.BreakerConfig{Window: 10, MinRequests: 10}},
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
	}
	resp, err := c.Do(context.Background(), postReceipt(t, srv.URL, `{"ref":"R-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.EqualValues(t, 3, calls.Load())
}

func TestClientReturnsUpstreamErrorAfterLastAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := resilience.Client{HTTP: srv.Client(), MaxAttempts: 2, BaseBackoff: time.Millisecond}
	resp, err := c.Do(context.Background(), postReceipt(t, srv.URL, "{}"))
	require.Nil(t, resp)
	var upstream *resilience.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
	require.EqualValues(t, 2, calls.Load())
}

func TestClientHandsBackRejectionWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	breakers := &resilience.Breakers{Config: resilience.BreakerConfig{Window: 1, MinRequests: 1, FailureRatio: 1}}
	c := resilience.Client{HTTP: srv.Client(), Breakers: breakers, MaxAttempts: 3, BaseBackoff: time.Millisecond}
	resp, err := c.Do(context.Background(), postReceipt(t, srv.URL, "{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, resilience.Closed, breakers.For(srv.URL).State())
}

func TestClientStopsAtOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breakers := &resilience.Breakers{Config: resilience.BreakerConfig{Window: 1, MinRequests: 1, FailureRatio: 1, OpenFor: time.Hour}}
	c := resilience.Client{HTTP: srv.Client(), Breakers: breakers, MaxAttempts: 5, BaseBackoff: time.Millisecond}

	_, err := c.Do(context.Background(), postReceipt(t, srv.URL, "{}"))
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.EqualValues(t, 1, calls.Load())

	_, err = c.Do(context.Background(), postReceipt(t, srv.URL, "{}"))
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.EqualValues(t, 1, calls.Load())
}

func TestClientCapsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := resilience.Client{
		HTTP:          srv.Client(),
		MaxAttempts:   2,
		BaseBackoff:   time.Millisecond,
		MaxRetryAfter: 20 * time.Millisecond,
	}
	start := time.Now()
	resp, err := c.Do(context.Background(), postReceipt(t, srv.URL, "{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestClientRefusesBodyItCannotReplay(t *testing.T) {
	req := postReceipt(t, "http://printer.local/receipts", "{}")
	req.GetBody = nil
	c := resilience.Client{HTTP: http.DefaultClient}
	_, err := c.Do(context.Background(), req)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	status := func(code int) *http.Response { return &http.Response{StatusCode: code} }
	cases := []struct {
		name string
		resp *http.Response
		err  error
		want resilience.Outcome
	}{
		{"ok", status(http.StatusOK), nil, resilience.Delivered},
		{"accepted", status(http.StatusAccepted), nil, resilience.Delivered},
		{"bad request", status(http.StatusBadRequest), nil, resilience.Rejected},
		{"conflict", status(http.StatusConflict), nil, resilience.Rejected},
		{"request timeout", status(http.StatusRequestTimeout), nil, resilience.Unavailable},
		{"too many requests", status(http.StatusTooManyRequests), nil, resilience.Unavailable},
		{"bad gateway", status(http.StatusBadGateway), nil, resilience.Unavailable},
		{"transport", nil, errors.New("connection refused"), resilience.Unavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, resilience.Classify(tc.resp, tc.err))
		})
	}
}
