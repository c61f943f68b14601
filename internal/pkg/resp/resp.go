/*
Package resp writes the JSON bodies of the relay's plain HTTP endpoints.

Only /health and rejected WebSocket upgrades answer with a body; chat traffic itself
travels as protocol frames. Every body is an Envelope.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/logx"
)

// Envelope is the body of every relay HTTP response.
type Envelope struct {
	// Code is 0 on success, otherwise one of the errs codes.
	Code int `json:"code"`

	Message string `json:"message"`

	Data any `json:"data,omitempty"`
}

// RespondJSON writes payload as the response body with httpStatus.
// Failures are logged on the request logger injected by logx.RequestLogger.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	logger := requestLogger(r)

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Int("http_status", httpStatus).Msg("Cannot encode response body")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")

	w.WriteHeader(httpStatus)
	if _, err := w.Write(body); err != nil {
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Response body write failed")
	}
}

// RespondSuccess answers 200 with data.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, Envelope{Message: "success", Data: data})
}

// RespondError answers with the HTTP status and code of customErr.
// A nil error is reported as ErrUnknown.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}
	if customErr.Code == errs.ErrRateLimitExceeded {
		w.Header().Set("Retry-After", "1")
	}

	RespondJSON(w, r, customErr.Status, Envelope{Code: customErr.Code, Message: customErr.Message})
}

// requestLogger returns the logger injected into r, or the global logger outside the router.
func requestLogger(r *http.Request) *zerolog.Logger {
	if logger := zerolog.Ctx(r.Context()); logger.GetLevel() != zerolog.Disabled {
		return logger
	}
	return logx.Logger()
}
