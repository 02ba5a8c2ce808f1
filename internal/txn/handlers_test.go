package txn_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hotel-billing/internal/money"
	"github.com/noah-isme/hotel-billing/internal/settlement"
	"github.com/noah-isme/hotel-billing/internal/txn"
)

type memStore struct {
	rows []txn.Transaction
}

func (m *memStore) Insert(_ context.Context, t txn.Transaction) (txn.Transaction, error) {
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.rows = append(m.rows, t)
	return t, nil
}

func (m *memStore) ListByReference(_ context.Context, ref string) ([]txn.Transaction, error) {
	var out []txn.Transaction
	for _, t := range m.rows {
		if t.Reference == ref {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestListByReference(t *testing.T) {
	store := &memStore{}
	ctx := context.Background()
	_, _ = store.Insert(ctx, txn.Transaction{Amount: money.MustParse("1000.00"), PaymentMethod: settlement.Cash, Purpose: "restaurant_checkout", Reference: "T-7"})
	_, _ = store.Insert(ctx, txn.Transaction{Amount: money.MustParse("243.00"), PaymentMethod: settlement.Fonepay, Purpose: "restaurant_checkout", Reference: "T-7"})
	_, _ = store.Insert(ctx, txn.Transaction{Amount: money.MustParse("50.00"), PaymentMethod: settlement.POS, Purpose: "table_billing", Reference: "T-8"})

	h := &txn.Handler{Store: store, Logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/transactions?reference=T-7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []struct {
			Amount        string `json:"amount"`
			PaymentMethod string `json:"paymentMethod"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	require.Equal(t, "1000.00", body.Data[0].Amount)
	require.Equal(t, "cash", body.Data[0].PaymentMethod)
	require.Equal(t, "fonepay", body.Data[1].PaymentMethod)
}

func TestListRequiresReference(t *testing.T) {
	h := &txn.Handler{Store: &memStore{}, Logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/transactions", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/transactions?reference=none", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":[]}`, rec.Body.String())
}
