package web

// errors.go maps pipeline errors onto HTTP responses. Every error is
// logged with full detail server-side; clients get a JSON body with a
// stable shape: {"error": "..."}.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/arcstore/migrator/internal/migration"
	"github.com/arcstore/migrator/internal/xlsx"
)

// ErrorResponse is the JSON body for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusForError maps known pipeline errors to HTTP status codes.
// Unknown errors are treated as internal.
func statusForError(err error) int {
	var maxBytes *http.MaxBytesError
	var rowLimit *xlsx.RowLimitError
	var dimension *xlsx.DimensionError

	switch {
	case errors.Is(err, migration.ErrJobNotFound),
		errors.Is(err, migration.ErrSheetNotFound):
		return http.StatusNotFound
	case errors.Is(err, migration.ErrTooManyJobs):
		return http.StatusTooManyRequests
	case errors.Is(err, xlsx.ErrLegacyFormat),
		errors.Is(err, xlsx.ErrNotZip),
		errors.As(err, &rowLimit),
		errors.As(err, &dimension):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped JSON error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"request_id", middleware.GetReqID(r.Context()),
	)

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.Migration.MaxWaitTime/time.Second)))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal detail stays in the log.
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeJSON encodes v as JSON with the given status code. Encoding
// errors are logged; headers are already committed by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}
