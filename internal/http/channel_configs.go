package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

// ChannelConfigsHandler handles tenant channel config and tenant endpoints.
// Every write broadcasts a cache invalidation so the next message sees it.
type ChannelConfigsHandler struct {
	store  store.ConfigStore
	token  string
	events bus.EventPublisher
}

// NewChannelConfigsHandler creates a handler for configuration endpoints.
func NewChannelConfigsHandler(s store.ConfigStore, token string, events bus.EventPublisher) *ChannelConfigsHandler {
	return &ChannelConfigsHandler{store: s, token: token, events: events}
}

// RegisterRoutes registers all configuration routes on the given mux.
func (h *ChannelConfigsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+protocol.RouteChannelConfigs, requireToken(h.token, h.handleList))
	mux.HandleFunc("GET "+protocol.RouteChannelConfig, requireToken(h.token, h.handleGet))
	mux.HandleFunc("PUT "+protocol.RouteChannelConfig, requireToken(h.token, h.handlePut))
	mux.HandleFunc("GET /v1/tenants/{id}", requireToken(h.token, h.handleGetTenant))
	mux.HandleFunc("PUT /v1/tenants/{id}", requireToken(h.token, h.handlePutTenant))
}

func (h *ChannelConfigsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.store.ListChannelConfigs(r.Context())
	if err != nil {
		slog.Error("channel_configs.list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list channel configs")
		return
	}
	if cfgs == nil {
		cfgs = []store.ChannelConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"channel_configs": cfgs})
}

func (h *ChannelConfigsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.GetChannelConfig(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "channel config not found")
		return
	}
	if err != nil {
		slog.Error("channel_configs.get", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get channel config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *ChannelConfigsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	var body store.ChannelConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body.ID = r.PathValue("id")

	if body.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if !isValidChannelType(body.ChannelType) {
		writeError(w, http.StatusBadRequest, "invalid channel_type")
		return
	}

	if err := h.store.UpsertChannelConfig(r.Context(), &body); err != nil {
		slog.Error("channel_configs.put", "id", body.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save channel config")
		return
	}

	emitCacheInvalidate(h.events, bus.CacheKindChannelConfig, body.ID)
	writeJSON(w, http.StatusOK, body)
}

func (h *ChannelConfigsHandler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTenant(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	if err != nil {
		slog.Error("tenants.get", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get tenant")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *ChannelConfigsHandler) handlePutTenant(w http.ResponseWriter, r *http.Request) {
	var body store.Tenant
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body.ID = r.PathValue("id")
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := h.store.UpsertTenant(r.Context(), &body); err != nil {
		slog.Error("tenants.put", "id", body.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save tenant")
		return
	}

	emitCacheInvalidate(h.events, bus.CacheKindTenant, body.ID)
	writeJSON(w, http.StatusOK, body)
}

// isValidChannelType checks if the channel type is supported.
func isValidChannelType(ct string) bool {
	switch ct {
	case channels.TypeWhatsApp, channels.TypeTelegram, channels.TypeDiscord, channels.TypeWebhook:
		return true
	}
	return false
}
