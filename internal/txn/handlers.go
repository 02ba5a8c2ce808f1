package txn

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/hotel-billing/internal/common"
)

type Handler struct {
	Store  Store
	Logger zerolog.Logger
}

// List returns the transactions recorded for ?reference=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "transaction store not configured", nil)
		return
	}
	ref := strings.TrimSpace(r.URL.Query().Get("reference"))
	if ref == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "reference is required", nil)
		return
	}
	items, err := h.Store.ListByReference(r.Context(), ref)
	if err != nil {
		h.Logger.Error().Err(err).Str("reference", ref).Msg("txn: list failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list transactions", nil)
		return
	}
	if items == nil {
		items = []Transaction{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}
