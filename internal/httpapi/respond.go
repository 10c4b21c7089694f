package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"hybrid-swap/internal/storage"
	"hybrid-swap/internal/swaperr"
	"hybrid-swap/internal/wizard"
)

const maxBody = 1 << 20

type errorBody struct {
	Code      string            `json:"code"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Context   map[string]string `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the tagged error envelope for err.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func classify(err error) (int, errorBody) {
	if se, ok := swaperr.As(err); ok {
		body := errorBody{
			Code:      string(se.Code),
			Kind:      string(se.Kind),
			Message:   se.Message,
			Retryable: se.Retryable(),
		}
		if len(se.Context) > 0 {
			body.Context = se.Context
		}
		return statusOf(se), body
	}

	switch {
	case errors.Is(err, wizard.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "NOT_FOUND", Kind: string(swaperr.Input), Message: err.Error()}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Kind: string(swaperr.Input), Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Code: "INTERNAL", Kind: string(swaperr.Transient), Message: "internal error", Retryable: true}
	}
}

func statusOf(se *swaperr.Error) int {
	switch se.Code {
	case swaperr.Busy:
		return http.StatusConflict
	case swaperr.SessionClosed:
		return http.StatusGone
	case swaperr.ConfirmationTimedOut:
		return http.StatusGatewayTimeout
	}
	switch se.Kind {
	case swaperr.Input:
		return http.StatusBadRequest
	case swaperr.Precondition:
		return http.StatusUnprocessableEntity
	case swaperr.Administrative:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

var errBadRequest = errors.New("bad request")

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
