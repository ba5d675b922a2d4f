package handler

import (
	"net/http"

	"github.com/awsl-project/kirod/internal/config"
)

// NewMux registers all routes behind their auth guards.
func NewMux(cfg *config.Config, messages *MessagesHandler, admin *AdminHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/models", requireAPIKey(cfg.APIKey, messages.HandleModels))
	mux.HandleFunc("POST /v1/messages", requireAPIKey(cfg.APIKey, messages.HandleMessages))
	mux.HandleFunc("POST /v1/messages/count_tokens", requireAPIKey(cfg.APIKey, messages.HandleCountTokens))

	mux.HandleFunc("GET /api/admin/credentials", requireAdminKey(cfg.AdminAPIKey, admin.HandleList))
	mux.HandleFunc("POST /api/admin/credentials", requireAdminKey(cfg.AdminAPIKey, admin.HandleCreate))
	mux.HandleFunc("DELETE /api/admin/credentials/{id}", requireAdminKey(cfg.AdminAPIKey, admin.HandleDelete))
	mux.HandleFunc("POST /api/admin/credentials/{id}/disabled", requireAdminKey(cfg.AdminAPIKey, admin.HandleSetDisabled))
	mux.HandleFunc("POST /api/admin/credentials/{id}/priority", requireAdminKey(cfg.AdminAPIKey, admin.HandleSetPriority))
	mux.HandleFunc("POST /api/admin/credentials/{id}/reset", requireAdminKey(cfg.AdminAPIKey, admin.HandleReset))
	mux.HandleFunc("GET /api/admin/credentials/{id}/balance", requireAdminKey(cfg.AdminAPIKey, admin.HandleBalance))

	return mux
}
