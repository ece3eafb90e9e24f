package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vocallabs/llm-batch/internal/auth"
	"github.com/vocallabs/llm-batch/internal/pipeline"
)

// badRequest marks request validation failures.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var br *badRequest
	var ae *auth.Error
	var fe *pipeline.FetchError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return ae.Status
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNoContent), errors.Is(err, pipeline.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeInput reads a Hasura Actions body into in.
func decodeInput(r *http.Request, in any) error {
	body := struct {
		Input any `json:"input"`
	}{Input: in}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return &badRequest{msg: "invalid request body: " + err.Error()}
	}
	return nil
}

type field struct{ name, value string }

// requireFields reports the first blank field.
func requireFields(fields ...field) error {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &badRequest{msg: f.name + " is required"}
		}
	}
	return nil
}
