package taxrule

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/hotel-billing/internal/common"
	"github.com/noah-isme/hotel-billing/internal/pricing"
)

// Handler serves the tax rule admin endpoints.
type Handler struct {
	Store  Store
	Logger zerolog.Logger
}

type createRequest struct {
	TaxType  string          `json:"taxType" validate:"required,oneof=vat service_tax luxury_tax other"`
	Name     string          `json:"name" validate:"max=80"`
	Percent  decimal.Decimal `json:"percent"`
	IsActive *bool           `json:"isActive"`
}

type toggleRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax rule store not configured", nil)
		return
	}
	rules, err := h.Store.List(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("taxrule: list failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list tax rules", nil)
		return
	}
	if rules == nil {
		rules = []pricing.TaxRule{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rules})
}

// Create adds a rule. Rules are active unless isActive is false.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax rule store not configured", nil)
		return
	}
	var req createRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	kind, err := pricing.ParseTaxType(req.TaxType)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if req.Percent.IsNegative() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "percent must not be negative", nil)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule, err := h.Store.Create(r.Context(), pricing.TaxRule{
		Type:     kind,
		Name:     strings.TrimSpace(req.Name),
		Percent:  req.Percent,
		IsActive: active,
	})
	if err != nil {
		h.Logger.Error().Err(err).Msg("taxrule: create failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create tax rule", nil)
		return
	}
	h.Logger.Info().Str("id", rule.ID.String()).Str("type", string(rule.Type)).Str("percent", rule.Percent.String()).Msg("taxrule: created")
	common.JSON(w, http.StatusCreated, map[string]any{"data": rule})
}

// Toggle switches a rule on or off.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax rule store not configured", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid tax rule id", nil)
		return
	}
	var req toggleRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.Store.SetActive(r.Context(), id, *req.IsActive)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "tax rule not found", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("taxrule: toggle failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update tax rule", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rule})
}
