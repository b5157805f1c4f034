package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

const (
	defaultErrorsLimit = 50
	maxErrorsLimit     = 500
)

// ErrorsHandler exposes pipeline error records.
type ErrorsHandler struct {
	store store.ErrorStore
	token string
}

// NewErrorsHandler creates a handler for error record endpoints.
func NewErrorsHandler(s store.ErrorStore, token string) *ErrorsHandler {
	return &ErrorsHandler{store: s, token: token}
}

// RegisterRoutes registers the error record routes on the given mux.
func (h *ErrorsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+protocol.RouteErrors, requireToken(h.token, h.handleList))
	mux.HandleFunc("GET "+protocol.RouteErrors+"/{id}", requireToken(h.token, h.handleGet))
}

func (h *ErrorsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultErrorsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxErrorsLimit {
			limit = n
		}
	}

	records, err := h.store.ListErrors(r.Context(), limit)
	if err != nil {
		slog.Error("errors.list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list errors")
		return
	}
	if records == nil {
		records = []store.ErrorRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors": records,
		"limit":  limit,
	})
}

func (h *ErrorsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetError(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "error record not found")
		return
	}
	if err != nil {
		slog.Error("errors.get", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get error record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
