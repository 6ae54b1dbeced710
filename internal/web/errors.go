package web

// errors.go provides unified error response handling for the web layer.
//
// All errors are logged with full technical detail server-side and returned
// to clients as coded, user-friendly JSON messages with action suggestions.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. Error is mapped via importer.MapError to get a coded user message
//     and via statusFor to get the HTTP status
//  4. Technical error + context is logged with the request ID for correlation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/rosterflow/rosterflow/internal/importer"
)

// ErrorResponse is the JSON structure for API error responses. It carries
// both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs the technical error and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	userMsg := importer.MapError(err)
	status := statusFor(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, importer.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrSessionTerminal),
		errors.Is(err, importer.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, importer.ErrTooManySessions):
		return http.StatusTooManyRequests
	}

	var mappingErr *importer.MappingError
	var resolutionErr *importer.ResolutionError
	if errors.As(err, &mappingErr) || errors.As(err, &resolutionErr) {
		return http.StatusUnprocessableEntity
	}

	var parseErr *importer.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadRequest
	}

	// Commit failures and everything unexpected
	return http.StatusInternalServerError
}

// respondJSON encodes v as JSON. Encoding errors are logged, not returned:
// headers are already sent.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
