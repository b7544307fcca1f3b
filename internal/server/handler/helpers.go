package handler

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/oddslab/makerbot/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPositionGone):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseBig parses a required decimal-string field.
func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

// parseBigOpt parses an optional decimal-string field; nil when absent.
func parseBigOpt(s *string) (*big.Int, bool) {
	if s == nil {
		return nil, true
	}
	return parseBig(*s)
}

// intString renders a big integer as a decimal string, nil-safe.
func intString(x *big.Int) *string {
	if x == nil {
		return nil
	}
	s := x.String()
	return &s
}
