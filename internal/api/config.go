package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"geofollow/pkg/config"
	"geofollow/pkg/tiles"
)

// SettingsProvider is a config.Provider whose runtime keys can be changed.
type SettingsProvider interface {
	config.Provider
	Set(ctx context.Context, key, val string) error
	Reset(ctx context.Context, key string) error
	Values(ctx context.Context) map[string]any
}

// ConfigHandler handles runtime settings API requests. Changes apply to
// sessions opened afterwards.
type ConfigHandler struct {
	cfgProv SettingsProvider
	appCfg  *config.Config
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(cfg SettingsProvider) *ConfigHandler {
	return &ConfigHandler{
		cfgProv: cfg,
		appCfg:  cfg.AppConfig(),
	}
}

// ConfigResponse represents the settings API response.
type ConfigResponse struct {
	Settings  map[string]any `json:"settings"`
	Container string         `json:"container"`
	Tiles     tiles.Source   `json:"tiles"`
	Keys      []string       `json:"keys"`
}

// HandleConfig is a unified handler for all config-related methods, facilitating CORS/OPTIONS.
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.HandleGetConfig(w, r)
	case http.MethodPut, http.MethodPost:
		h.HandleSetConfig(w, r)
	case http.MethodDelete:
		h.HandleResetConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleGetConfig returns the effective runtime settings.
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.getConfigResponse(r.Context()))
}

func (h *ConfigHandler) getConfigResponse(ctx context.Context) ConfigResponse {
	return ConfigResponse{
		Settings:  h.cfgProv.Values(ctx),
		Container: h.appCfg.Map.Container,
		Tiles:     h.appCfg.Map.Tiles.Sanitized(),
		Keys:      config.RuntimeKeys,
	}
}

// HandleSetConfig applies a {key: value} object. Values may be strings,
// numbers or booleans. Nothing is stored if any key is rejected.
func (h *ConfigHandler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req) == 0 {
		http.Error(w, "No settings given", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	values := make(map[string]string, len(req))
	for k, v := range req {
		s, err := settingString(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", k, err))
			return
		}
		values[k] = s
	}

	// Validate all keys before touching the store.
	for k, v := range values {
		if err := config.ValidateRuntime(k, v); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	for k, v := range values {
		if err := h.cfgProv.Set(ctx, k, v); err != nil {
			slog.Error("Failed to store setting", "key", k, "error", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		slog.Info("Setting changed", "key", k, "value", v)
	}

	writeJSON(w, http.StatusOK, h.getConfigResponse(ctx))
}

// HandleResetConfig drops the override for ?key=..., falling back to the file.
func (h *ConfigHandler) HandleResetConfig(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "Missing key", http.StatusBadRequest)
		return
	}
	if err := h.cfgProv.Reset(r.Context(), key); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.getConfigResponse(r.Context()))
}

func settingString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return fmt.Sprintf("%v", t), nil
	case bool:
		return fmt.Sprintf("%t", t), nil
	default:
		return "", fmt.Errorf("unsupported value %v", v)
	}
}
