// Package http exposes the receipt workflow over REST: category
// reference data, scan upload and polling, workspace sessions and the
// receipt archive.
package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"scontrino/internal/auth"
	"scontrino/internal/cache"
	"scontrino/internal/core"
	"scontrino/internal/ocr"
	"scontrino/internal/workspace"
)

// CategoryStore provides the read-only category reference list.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
}

// ScanStore persists scan records.
type ScanStore interface {
	CreateScan(ctx context.Context, s *core.Scan) error
	GetScan(ctx context.Context, id, userID string) (*core.Scan, error)
	MarkScanDone(ctx context.Context, id string, items []core.ScannedItem) error
	MarkScanFailed(ctx context.Context, id, message string) error
}

// ReceiptStore reads and deletes saved receipts.
type ReceiptStore interface {
	GetReceipt(ctx context.Context, id, userID string) (*core.Receipt, error)
	ListReceipts(ctx context.Context, userID string, limit, offset int) ([]core.Receipt, error)
	DeleteReceipt(ctx context.Context, id, userID string) error
}

// ImageStore saves uploaded receipt images and reads them back.
type ImageStore interface {
	Save(originalName string, r io.Reader) (string, error)
	Read(path string) ([]byte, error)
}

// JobPublisher hands scan jobs to the worker. Nil means no broker; the
// server extracts inline instead.
type JobPublisher interface {
	PublishScanJob(ctx context.Context, scanID string) error
}

// Deps bundles everything the server talks to.
type Deps struct {
	Categories CategoryStore
	Scans      ScanStore
	Receipts   ReceiptStore
	Images     ImageStore
	Sessions   *workspace.Manager
	Sink       workspace.ReceiptSink
	Publisher  JobPublisher
	Extractor  ocr.Extractor
	JWT        *auth.JWTManager
}

type Server struct {
	http.Server

	categories CategoryStore
	scans      ScanStore
	receipts   ReceiptStore
	images     ImageStore
	sessions   *workspace.Manager
	sink       workspace.ReceiptSink
	publisher  JobPublisher
	extractor  ocr.Extractor
	jwt        *auth.JWTManager

	rateLimiter   *rateLimiter
	categoryCache *cache.LRU[[]core.Category]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		categories:       deps.Categories,
		scans:            deps.Scans,
		receipts:         deps.Receipts,
		images:           deps.Images,
		sessions:         deps.Sessions,
		sink:             deps.Sink,
		publisher:        deps.Publisher,
		extractor:        deps.Extractor,
		jwt:              deps.JWT,
		rateLimiter:      newRateLimiter(),
		categoryCache:    cache.NewLRU[[]core.Category](1, 5*time.Minute),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	// Categories are public reference data, everything else requires a
	// bearer token.
	mux.HandleFunc("GET /categories", s.withRequestLogging(s.handleListCategories))

	mux.HandleFunc("POST /scans", s.protected(s.handleCreateScan))
	mux.HandleFunc("GET /scans/{id}", s.protected(s.handleGetScan))

	mux.HandleFunc("POST /workspaces", s.protected(s.handleOpenWorkspace))
	mux.HandleFunc("GET /workspaces/{id}", s.protected(s.handleGetWorkspace))
	mux.HandleFunc("DELETE /workspaces/{id}", s.protected(s.handleCloseWorkspace))
	mux.HandleFunc("POST /workspaces/{id}/moves", s.protected(s.handleMoveItem))
	mux.HandleFunc("PUT /workspaces/{id}/items/{itemID}/price", s.protected(s.handleSetItemPrice))
	mux.HandleFunc("PUT /workspaces/{id}/items/{itemID}/category", s.protected(s.handleSetItemCategory))
	mux.HandleFunc("POST /workspaces/{id}/participants", s.protected(s.handleAddParticipant))
	mux.HandleFunc("POST /workspaces/{id}/submit", s.protected(s.handleSubmitWorkspace))

	mux.HandleFunc("POST /receipts", s.protected(s.handleCreateReceipt))
	mux.HandleFunc("GET /receipts", s.protected(s.handleListReceipts))
	mux.HandleFunc("GET /receipts/{id}", s.protected(s.handleGetReceipt))
	mux.HandleFunc("DELETE /receipts/{id}", s.protected(s.handleDeleteReceipt))

	return s
}

// protected chains request logging, security headers, rate limiting and
// bearer auth.
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return s.withRequestLogging(s.withAuth(next))
}

// withRequestLogging adds security headers, rate limiting and request-id
// logging to responses.
func (s *Server) withRequestLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := withRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP,
			"user_agent", r.Header.Get("User-Agent"))

		// Mutating requests are rate limited per client.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	}
}

// withAuth validates the bearer token and puts the caller's identity on
// the context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := s.jwt.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), claims.UserID, claims.Email)))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if cleaned := s.categoryCache.CleanExpired(); cleaned > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", cleaned)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the cleanup goroutines along with the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopCacheCleanup)
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
