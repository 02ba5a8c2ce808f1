package voucher

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/hotel-billing/internal/common"
	"github.com/noah-isme/hotel-billing/internal/money"
)

// Handler exposes voucher lookup and administrative issuance endpoints.
type Handler struct {
	Ledger *Ledger
}

type createRequest struct {
	Code           string          `json:"code" validate:"required,max=64"`
	DiscountType   string          `json:"discountType" validate:"required,oneof=percentage fixed"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	IsActive       *bool           `json:"isActive"`
	ValidFrom      *time.Time      `json:"validFrom"`
	ValidUntil     *time.Time      `json:"validUntil"`
}

type previewRequest struct {
	Code string      `json:"code" validate:"required"`
	Base money.Money `json:"base"`
}

// Get validates a voucher code and returns the voucher when usable now.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher ledger not configured", nil)
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	v, err := h.Ledger.Resolve(r.Context(), code)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// Preview returns the simulated discount for a voucher without persisting state.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher ledger not configured", nil)
		return
	}
	var req previewRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.Base.IsNegative() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "base must not be negative", nil)
		return
	}
	result, err := h.Ledger.Preview(r.Context(), req.Code, req.Base)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Create issues a new voucher.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher ledger not configured", nil)
		return
	}
	var req createRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	kind, err := ParseDiscountType(req.DiscountType)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	v, err := h.Ledger.Create(r.Context(), NewVoucher{
		Code:           req.Code,
		DiscountType:   kind,
		DiscountAmount: req.DiscountAmount,
		IsActive:       active,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDefinition):
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		case errors.Is(err, ErrDuplicateCode):
			common.JSONError(w, http.StatusConflict, "CONFLICT", "voucher code already exists", nil)
		default:
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create voucher", nil)
		}
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": v})
}

// List returns issued vouchers, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil || h.Ledger.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "voucher ledger not configured", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := h.Ledger.Store.List(r.Context(), limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list vouchers", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}
