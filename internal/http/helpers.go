package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scontrino/internal/core"
	"scontrino/internal/workspace"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError sends the JSON error shape the SPA expects: {"message": …}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusForWorkspaceError maps session errors to HTTP statuses.
func statusForWorkspaceError(err error) int {
	var sinkErr *workspace.SinkError
	switch {
	case errors.Is(err, core.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoSuchBucket):
		return http.StatusConflict
	case errors.Is(err, core.ErrSentinelTarget):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrWorkspaceClosed):
		return http.StatusGone
	case errors.Is(err, core.ErrEmptyReceipt):
		return http.StatusBadRequest
	case errors.As(err, &sinkErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeWorkspaceError(w http.ResponseWriter, err error) {
	writeError(w, statusForWorkspaceError(err), err.Error())
}

func writeSnapshot(w http.ResponseWriter, status int, ws *workspace.Workspace) {
	writeJSON(w, status, ws.Snapshot())
}

// parseListParams extracts limit and offset query parameters with
// defaults.
func parseListParams(r *http.Request) (limit, offset int) {
	limit, offset = 20, 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
