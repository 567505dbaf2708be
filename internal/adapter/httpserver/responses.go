// Package httpserver contains the REST handlers and middleware. Responses use
// flat JSON envelopes with a "status" discriminator: "success" or "error".
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
	"github.com/fairyhunter13/painpoint-analyzer/internal/usecase"
)

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, fields envelope) {
	out := envelope{"status": "success"}
	for k, v := range fields {
		out[k] = v
	}
	writeJSON(w, status, out)
}

func writeError(w http.ResponseWriter, err error, details any) {
	status := http.StatusInternalServerError
	code := "internal"
	out := envelope{"status": "error"}

	var insufficient *usecase.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		status = http.StatusPaymentRequired
		code = "insufficient_credits"
		out["required"] = insufficient.Required
		out["available"] = insufficient.Available
	case errors.Is(err, domain.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
		code = "insufficient_credits"
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "invalid_argument"
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, domain.ErrNotCancellable):
		status = http.StatusConflict
		code = "not_cancellable"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, domain.ErrPreconditionFailed):
		status = http.StatusPreconditionFailed
		code = "precondition_failed"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		status = http.StatusGatewayTimeout
		code = "upstream_timeout"
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
		code = "upstream_error"
	}
	out["code"] = code
	out["error"] = err.Error()
	if details != nil {
		out["details"] = details
	}
	writeJSON(w, status, out)
}
