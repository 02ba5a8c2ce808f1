package checkout

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/hotel-billing/internal/common"
	"github.com/noah-isme/hotel-billing/internal/lock"
	"github.com/noah-isme/hotel-billing/internal/money"
	"github.com/noah-isme/hotel-billing/internal/pricing"
	"github.com/noah-isme/hotel-billing/internal/settlement"
)

type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

type lineItemRequest struct {
	Description string      `json:"description" validate:"max=200"`
	UnitPrice   money.Money `json:"unitPrice"`
	Quantity    int64       `json:"quantity"`
}

type quoteRequest struct {
	Purpose       string            `json:"purpose" validate:"required,oneof=restaurant_checkout table_billing room_checkout hall_quotation"`
	Items         []lineItemRequest `json:"items" validate:"dive"`
	VoucherCode   string            `json:"voucherCode" validate:"max=64"`
	DiscountBasis string            `json:"discountBasis" validate:"omitempty,oneof=pre_tax post_tax"`
}

type checkoutRequest struct {
	quoteRequest
	Reference string            `json:"reference" validate:"required,max=64"`
	Tender    settlement.Tender `json:"tender"`
}

type reconcileRequest struct {
	GrandTotal money.Money       `json:"grandTotal"`
	Tender     settlement.Tender `json:"tender"`
}

func (req quoteRequest) input() (QuoteInput, error) {
	purpose, err := ParsePurpose(req.Purpose)
	if err != nil {
		return QuoteInput{}, err
	}
	in := QuoteInput{Purpose: purpose, VoucherCode: req.VoucherCode}
	if req.DiscountBasis != "" {
		basis, err := pricing.ParseDiscountBasis(req.DiscountBasis)
		if err != nil {
			return QuoteInput{}, err
		}
		in.Basis = basis
	}
	in.Items = make([]pricing.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		in.Items = append(in.Items, pricing.LineItem{Description: it.Description, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return in, nil
}

// Quote composes a bill for display. Nothing is persisted.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req quoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeError(w, err)
		return
	}
	bill, err := h.Svc.Quote(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bill})
}

// Reconcile checks a tender against a total. The payment screen calls it
// before enabling the settle button.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := settlement.Reconcile(req.GrandTotal, req.Tender)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Checkout settles a bill.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req checkoutRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeError(w, err)
		return
	}
	receipt, err := h.Svc.Settle(r.Context(), SettleInput{QuoteInput: in, Reference: req.Reference, Tender: req.Tender})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": receipt})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidLineItem):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_LINE_ITEM", err.Error(), nil)
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, pricing.ErrDiscountBasis):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, lock.ErrNotAcquired):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "voucher is being used by another checkout", nil)
	case errors.Is(err, pricing.ErrInvalidTaxRule):
		h.Logger.Error().Err(err).Msg("checkout: tax rule configuration is invalid")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax configuration is invalid", nil)
	default:
		var coded common.Coded
		if !errors.As(err, &coded) {
			h.Logger.Error().Err(err).Msg("checkout: request failed")
		}
		common.WriteError(w, err)
	}
}
