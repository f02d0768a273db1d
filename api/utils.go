package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"botguard/service"
	"botguard/storage"

	"go.uber.org/zap"
)

// maxRequestBody caps admin payloads at 1MB
const maxRequestBody = 1 << 20

// errorResponse is the JSON error envelope
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response with the given status
func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Errorw("Failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response and logs the full error internally
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else if statusCode >= 500 {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	respondJSON(w, statusCode, errorResponse{Error: message}, logger)
}

// writeServiceError maps service-layer errors to HTTP statuses: validation
// failures are 400, missing records 404, everything else 500.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.SugaredLogger) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil, logger)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", nil, logger)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err, logger)
	}
}

// decodeJSONBody decodes the request body into dst with a size cap
func decodeJSONBody(r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// paginationParams parses limit/offset query parameters, zero meaning
// "use the service default"
func paginationParams(r *http.Request) (limit, offset int) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			offset = v
		}
	}
	return limit, offset
}

// requestIP extracts the client IP, honoring X-Forwarded-For when present
func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		ip := strings.TrimSpace(parts[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestActor identifies the caller for audit fields. Without
// authentication this falls back to a header or the client IP.
func requestActor(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return requestIP(r)
}
