package queue

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/hotel-billing/internal/common"
	"github.com/noah-isme/hotel-billing/internal/obs"
)

// AdminHandler exposes dead-letter inspection and replay for operators.
type AdminHandler struct {
	Store    DeadLetterStore
	Queue    Enqueuer
	PageSize int
	Logger   zerolog.Logger
}

type replayRequest struct {
	IDs   []string `json:"ids" validate:"omitempty,dive,uuid"`
	Kind  string   `json:"kind" validate:"required_without=IDs"`
	Limit int      `json:"limit" validate:"gte=0,lte=500"`
}

// ListDLQ returns dead-letter entries, optionally filtered by kind.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue store unavailable", nil)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	limit, offset := h.pagination(r)
	entries, err := h.Store.List(r.Context(), kind, limit, offset)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list dead letters", nil)
		return
	}
	total, err := h.Store.Count(r.Context(), kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to count dead letters", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries, "total": total})
}

// ReplayDLQ re-enqueues entries by id, or the oldest page of a kind.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	var req replayRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	ctx := r.Context()
	var entries []DLQEntry
	failed := map[string]string{}
	if len(req.IDs) > 0 {
		for _, raw := range req.IDs {
			entry, err := h.Store.Get(ctx, uuid.MustParse(raw))
			if err != nil {
				failed[raw] = err.Error()
				continue
			}
			entries = append(entries, entry)
		}
	} else {
		limit := req.Limit
		if limit == 0 {
			limit = h.pageSize()
		}
		listed, err := h.Store.List(ctx, sanitizeKind(req.Kind), limit, 0)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list dead letters", nil)
			return
		}
		entries = listed
	}

	replayed := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		if err := h.requeue(ctx, entry); err != nil {
			failed[entry.ID.String()] = err.Error()
			continue
		}
		replayed = append(replayed, entry.ID)
	}
	h.Logger.Info().Int("replayed", len(replayed)).Int("failed", len(failed)).Msg("queue: dead letters replayed")
	resp := map[string]any{"replayed": replayed}
	if len(failed) > 0 {
		resp["failed"] = failed
	}
	common.JSON(w, http.StatusOK, resp)
}

// Stats reports ready, in-flight and dead-lettered counts for a kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil || h.Queue.R == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue dependencies unavailable", nil)
		return
	}
	kind := sanitizeKind(strings.TrimSpace(r.URL.Query().Get("kind")))
	if kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	ready, processing, err := h.Queue.Depth(r.Context(), kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to read queue depth", nil)
		return
	}
	dead, err := h.Store.Count(r.Context(), kind)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to count dead letters", nil)
		return
	}
	obs.SetQueueDepth(kind, ready, dead)
	common.JSON(w, http.StatusOK, map[string]any{"kind": kind, "ready": ready, "processing": processing, "dlq": dead})
}

func (h *AdminHandler) requeue(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	if err := h.Queue.Enqueue(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}); err != nil {
		return err
	}
	if err := h.Store.Delete(ctx, entry.ID); err != nil {
		return err
	}
	obs.AddDeadLetters(msg.Kind, -1)
	return nil
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}

func (h *AdminHandler) pagination(r *http.Request) (limit, offset int) {
	limit = h.pageSize()
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
