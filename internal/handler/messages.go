// Package handler serves the north-side HTTP API: the Anthropic-compatible
// messages surface and the credential admin endpoints.
package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/awsl-project/kirod/internal/anthropic"
	"github.com/awsl-project/kirod/internal/config"
	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/executor"
	"github.com/awsl-project/kirod/internal/kiro"
)

// MessagesHandler serves /v1/models, /v1/messages and count_tokens.
type MessagesHandler struct {
	cfg       *config.Config
	client    *kiro.Client
	exec      *executor.Executor
	estimator *kiro.TokenEstimator
}

// NewMessagesHandler wires the messages surface.
func NewMessagesHandler(cfg *config.Config, client *kiro.Client, exec *executor.Executor) *MessagesHandler {
	return &MessagesHandler{
		cfg:       cfg,
		client:    client,
		exec:      exec,
		estimator: kiro.NewTokenEstimator(),
	}
}

// HandleModels lists the supported models.
func (h *MessagesHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data":     anthropic.SupportedModels,
		"has_more": false,
	})
}

// HandleMessages proxies one Messages API request through the credential
// pool.
func (h *MessagesHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "unreadable request body")
		return
	}

	var req anthropic.Request
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("malformed JSON: %v", err))
		return
	}

	upstreamBody, _, err := kiro.BuildRequest(&req, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	inputTokens := h.estimator.EstimateInputTokens(&req)
	messageID := newMessageID()

	kind := kiro.KindGenerateAssistantResponse
	if req.Stream {
		kind = kiro.KindConverseStream
	}

	streamStarted := false
	emit := h.sseEmitter(w)

	execErr := h.exec.Execute(r.Context(), func(ctx context.Context, cred *domain.Credential) error {
		resp, err := h.client.Send(ctx, cred, kind, upstreamBody)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if req.Stream {
			return h.streamResponse(ctx, w, resp.Body, &req, messageID, inputTokens, emit, &streamStarted)
		}
		return h.collectResponse(ctx, w, resp.Body, &req, messageID, inputTokens)
	})

	if execErr != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing left to write.
			return
		}
		if streamStarted {
			// Headers are out: report in-band and terminate the stream.
			_ = emit("error", map[string]any{
				"type": "error",
				"error": map[string]any{
					"type":    "api_error",
					"message": execErr.Error(),
				},
			})
			return
		}
		writeDomainError(w, execErr)
	}
}

func (h *MessagesHandler) streamResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, req *anthropic.Request, messageID string, inputTokens int, emit kiro.Emitter, streamStarted *bool) error {
	if !*streamStarted {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		*streamStarted = true
	}

	tr := kiro.NewTranslator(messageID, req.Model, inputTokens, emit)
	if err := tr.Start(); err != nil {
		return err
	}

	if err := kiro.ProcessStream(ctx, body, tr); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The SSE channel is live, so failures become in-band error events;
		// retrying would corrupt the stream.
		log.Warnf("handler: stream terminated: %v", err)
		_ = emit("error", map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": "upstream stream error",
			},
		})
		return nil
	}

	return tr.Finish()
}

func (h *MessagesHandler) collectResponse(ctx context.Context, w http.ResponseWriter, body io.Reader, req *anthropic.Request, messageID string, inputTokens int) error {
	collector := kiro.NewCollector()
	tr := kiro.NewTranslator(messageID, req.Model, inputTokens, collector.Emit)

	if err := tr.Start(); err != nil {
		return err
	}
	if err := kiro.ProcessStream(ctx, body, tr); err != nil {
		return err
	}
	if err := tr.Finish(); err != nil {
		return err
	}

	resp := collector.Response()
	resp.Model = req.Model
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *MessagesHandler) sseEmitter(w http.ResponseWriter) kiro.Emitter {
	flusher, _ := w.(http.Flusher)
	return func(event string, data map[string]any) error {
		payload, err := sonic.Marshal(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// HandleCountTokens estimates the prompt size, delegating to the configured
// external counter when one is set.
func (h *MessagesHandler) HandleCountTokens(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "unreadable request body")
		return
	}

	var req anthropic.Request
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("malformed JSON: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	if h.cfg.CountTokensAPIURL != "" {
		if count, err := h.delegateCountTokens(r.Context(), body); err == nil {
			writeJSON(w, http.StatusOK, countTokensResponse{InputTokens: count})
			return
		} else {
			log.Warnf("handler: external count_tokens failed, using local estimate: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, countTokensResponse{
		InputTokens: h.estimator.EstimateInputTokens(&req),
	})
}

func (h *MessagesHandler) delegateCountTokens(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.CountTokensAPIURL, strings.NewReader(string(body)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch h.cfg.CountTokensAuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+h.cfg.CountTokensAPIKey)
	default:
		req.Header.Set("x-api-key", h.cfg.CountTokensAPIKey)
	}

	resp, err := h.client.HTTPClient().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("count_tokens endpoint returned %d", resp.StatusCode)
	}

	var parsed countTokensResponse
	if err := sonic.Unmarshal(respBody, &parsed); err != nil {
		return 0, err
	}
	return parsed.InputTokens, nil
}

func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := sonic.Marshal(v)
	_, _ = w.Write(body)
}
