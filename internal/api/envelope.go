// Package api holds the JSON envelope every /api endpoint answers with.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ticklist/internal/model"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeBadRequest       = "BAD_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeTooManyAttempts  = "TOO_MANY_ATTEMPTS"
	CodeInternal         = "INTERNAL_ERROR"
)

type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     *Error `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type Error struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, Envelope{Success: true, Data: data, Timestamp: timestamp()})
}

func WriteError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, Envelope{Error: &Error{Code: errCode, Message: msg}, Timestamp: timestamp()})
}

// WriteValidation answers 400 with every problem listed in details.
func WriteValidation(w http.ResponseWriter, err error) {
	e := &Error{Code: CodeValidation, Message: err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		e.Details = ve.Problems
		if len(ve.Problems) > 0 {
			e.Message = ve.Problems[0]
		}
	}
	writeJSON(w, http.StatusBadRequest, Envelope{Error: e, Timestamp: timestamp()})
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}

func DecodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}
