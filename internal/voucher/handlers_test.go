package voucher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type errorEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func newTestRouter(store *memStore) http.Handler {
	h := &Handler{Ledger: &Ledger{Store: store}}
	r := chi.NewRouter()
	r.Get("/vouchers/{code}", h.Get)
	r.Post("/vouchers/preview", h.Preview)
	r.Post("/admin/vouchers", h.Create)
	return r
}

func TestGetRedeemedVoucherReportsReason(t *testing.T) {
	v := fixedVoucher("USED", 10)
	v.Redeemed = true
	router := newTestRouter(newMemStore(v))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vouchers/used", nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INVALID_VOUCHER", body.Error.Code)
	require.Equal(t, "already_redeemed", body.Error.Details["reason"])
}

func TestPreviewEndpoint(t *testing.T) {
	router := newTestRouter(newMemStore(fixedVoucher("FLAT500", 500)))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/vouchers/preview", strings.NewReader(`{"code":"flat500","base":"300.00"}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Discount string `json:"discount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "300.00", body.Data.Discount)
}

func TestCreateEndpointValidation(t *testing.T) {
	store := newMemStore()
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/vouchers", strings.NewReader(`{"code":"x","discountType":"bogus"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/vouchers",
		strings.NewReader(`{"code":"spring","discountType":"percentage","discountAmount":"12.5"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	stored, err := store.FindByCode(context.Background(), "SPRING")
	require.NoError(t, err)
	require.True(t, stored.IsActive)
	require.Equal(t, "12.5", stored.DiscountAmount.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/vouchers",
		strings.NewReader(`{"code":"SPRING","discountType":"fixed","discountAmount":"1"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)
}
