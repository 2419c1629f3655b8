package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeUserInactive       = "USER_INACTIVE"
	CodeEmailExists        = "EMAIL_ALREADY_EXISTS"
	CodeRuleNameExists     = "RULE_NAME_ALREADY_EXISTS"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

// maxBodyBytes caps request bodies; batches are the largest payloads.
const maxBodyBytes = 4 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	TraceID   string    `json:"traceId"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Details   any       `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	traceID := GetTraceID(r.Context())
	if traceID == "" {
		traceID = uuid.New().String()
	}

	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
		Path:      path,
		Details:   details,
	})
}

// writeInternal logs err and replies with a generic 500.
func writeInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg, "error", err, "path", r.URL.Path, "trace_id", GetTraceID(r.Context()))
	writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error, see logs for details", nil)
}

// writeValidation replies 422 when err carries field errors and reports
// whether it did.
func writeValidation(w http.ResponseWriter, r *http.Request, err error) bool {
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	writeError(w, r, http.StatusUnprocessableEntity, CodeValidationFailed, "request validation failed", verrs)
	return true
}

// writeDSLErrors replies 422 with the flattened rule compilation errors.
// The response code is the code of the first error.
func writeDSLErrors(w http.ResponseWriter, r *http.Request, err error) {
	pe, ok := dsl.AsParserError(err)
	if !ok {
		writeError(w, r, http.StatusUnprocessableEntity, dsl.CodeParseError, err.Error(), nil)
		return
	}
	errs := dslErrors(pe.Flatten())
	writeError(w, r, http.StatusUnprocessableEntity, errs[0].Code, "invalid rule expression: "+errs[0].Message, errs)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON request body: %w", err)
	}
	return nil
}

// dslErrors converts parser errors to their client-facing form.
func dslErrors(perrs []*dsl.ParserError) []domain.DSLError {
	out := make([]domain.DSLError, len(perrs))
	for i, pe := range perrs {
		out[i] = domain.DSLError{
			Code:       pe.Code,
			Message:    pe.Detail,
			Near:       pe.Near,
			Suggestion: pe.Suggestion,
		}
		if pe.Position != nil {
			offset := pe.Position.Offset
			out[i].Position = &offset
		}
	}
	return out
}
