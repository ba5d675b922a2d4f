package handler

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/awsl-project/kirod/internal/anthropic"
	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/eventstream"
)

// writeError renders the Anthropic error envelope.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := sonic.Marshal(anthropic.NewError(errType, message))
	_, _ = w.Write(body)
}

// writeDomainError maps internal failures onto HTTP statuses and error
// types. It must only run before response headers are sent.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.Is(err, domain.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, "api_error", "no upstream credential available")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found_error", err.Error())
	case errors.Is(err, eventstream.ErrFrameCorrupt),
		errors.Is(err, eventstream.ErrFrameTooLarge),
		errors.Is(err, eventstream.ErrHeaderUnknownType):
		writeError(w, http.StatusBadGateway, "api_error", "upstream stream corrupted")
	case errors.Is(err, domain.ErrUpstreamTimeout):
		writeError(w, http.StatusBadGateway, "api_error", "upstream timed out")
	default:
		var pe *domain.ProxyError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadGateway, "api_error", pe.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
	}
}
