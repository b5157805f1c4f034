package http

import (
	"net/http"

	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

// StatsHandler serves GET /v1/stats.
type StatsHandler struct {
	snapshot func() protocol.StatsSnapshot
	token    string
}

// NewStatsHandler creates a stats handler around a snapshot function.
func NewStatsHandler(snapshot func() protocol.StatsSnapshot, token string) *StatsHandler {
	return &StatsHandler{snapshot: snapshot, token: token}
}

// RegisterRoutes registers the stats route on the given mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+protocol.RouteStats, requireToken(h.token, h.handleStats))
}

func (h *StatsHandler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}
