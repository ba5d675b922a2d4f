package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/kiro"
	"github.com/awsl-project/kirod/internal/repository"
)

// AdminHandler serves the credential CRUD endpoints.
type AdminHandler struct {
	repo   repository.CredentialRepository
	client *kiro.Client
}

// NewAdminHandler wires the admin surface.
func NewAdminHandler(repo repository.CredentialRepository, client *kiro.Client) *AdminHandler {
	return &AdminHandler{repo: repo, client: client}
}

type adminResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// credentialView is the admin-facing JSON shape. The refresh token is
// truncated; secrets never leave the store in full.
type credentialView struct {
	ID                uint64  `json:"id"`
	AuthMethod        string  `json:"authMethod"`
	RefreshToken      string  `json:"refreshToken"`
	MachineID         string  `json:"machineId"`
	ProfileArn        string  `json:"profileArn,omitempty"`
	Priority          int     `json:"priority"`
	Disabled          bool    `json:"disabled"`
	FailureCount      int     `json:"failureCount"`
	SubscriptionTitle string  `json:"subscriptionTitle,omitempty"`
	CurrentUsage      float64 `json:"currentUsage"`
	UsageLimit        float64 `json:"usageLimit"`
	NextResetAt       string  `json:"nextResetAt,omitempty"`
	CreatedAt         string  `json:"createdAt"`
}

func toView(c *domain.Credential) credentialView {
	v := credentialView{
		ID:                c.ID,
		AuthMethod:        string(c.AuthMethod),
		RefreshToken:      maskSecret(c.RefreshToken),
		MachineID:         c.MachineID,
		ProfileArn:        c.ProfileArn,
		Priority:          c.Priority,
		Disabled:          c.Disabled,
		FailureCount:      c.FailureCount,
		SubscriptionTitle: c.SubscriptionTitle,
		CurrentUsage:      c.CurrentUsage,
		UsageLimit:        c.UsageLimit,
		CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.NextResetAt != nil {
		v.NextResetAt = c.NextResetAt.UTC().Format(time.RFC3339)
	}
	return v
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// HandleList returns all credentials in selection order.
func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	creds, err := h.repo.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return
	}
	views := make([]credentialView, len(creds))
	for i, c := range creds {
		views[i] = toView(c)
	}
	writeJSON(w, http.StatusOK, adminResponse{Success: true, Data: views})
}

type createCredentialRequest struct {
	RefreshToken string `json:"refreshToken"`
	AuthMethod   string `json:"authMethod"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	MachineID    string `json:"machineId,omitempty"`
	Priority     int    `json:"priority"`
}

// HandleCreate inserts a credential. machineId is generated when absent.
func (h *AdminHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "unreadable request body")
		return
	}

	var req createCredentialRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON")
		return
	}
	if req.AuthMethod == "" {
		req.AuthMethod = string(domain.AuthMethodSocial)
	}

	cred := &domain.Credential{
		RefreshToken: req.RefreshToken,
		AuthMethod:   domain.AuthMethod(req.AuthMethod),
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		MachineID:    req.MachineID,
		Priority:     req.Priority,
	}
	if err := h.repo.Create(cred); err != nil {
		writeDomainError(w, err)
		return
	}

	log.Infof("admin: credential %d added (method=%s, priority=%d)", cred.ID, cred.AuthMethod, cred.Priority)
	writeJSON(w, http.StatusOK, adminResponse{Success: true, Message: "credential added", Data: toView(cred)})
}

// HandleDelete removes a credential permanently.
func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminResponse{Success: true, Message: "credential deleted"})
}

// HandleSetDisabled flips the disabled flag.
func (h *AdminHandler) HandleSetDisabled(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Disabled bool `json:"disabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON")
		return
	}

	if err := h.repo.SetDisabled(id, req.Disabled); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminResponse{Success: true, Message: "credential updated"})
}

// HandleSetPriority changes selection order.
func (h *AdminHandler) HandleSetPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Priority int `json:"priority"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON")
		return
	}

	if err := h.repo.SetPriority(id, req.Priority); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminResponse{Success: true, Message: "credential updated"})
}

// HandleReset zeroes the failure counter, making the credential selectable
// again.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.repo.ResetFailure(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminResponse{Success: true, Message: "failure count reset"})
}

// HandleBalance fetches the account quota and caches it on the row.
func (h *AdminHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	cred, err := h.repo.GetByID(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	balance, err := h.client.FetchBalance(r.Context(), cred)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.repo.UpdateBalance(id, balance); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, adminResponse{Success: true, Data: map[string]any{
		"subscriptionTitle": balance.SubscriptionTitle,
		"currentUsage":      balance.CurrentUsage,
		"usageLimit":        balance.UsageLimit,
		"nextResetAt":       balance.NextResetAt,
	}})
}

func (h *AdminHandler) pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid credential id")
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return sonic.Unmarshal(body, v)
}
