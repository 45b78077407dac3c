package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scontrino/internal/auth"
	"scontrino/internal/core"
	"scontrino/internal/storage"
)

const (
	categoryCacheKey = "categories"
	maxUploadBytes   = 10 << 20
)

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if cats, ok := s.categoryCache.Get(categoryCacheKey); ok {
		writeJSON(w, http.StatusOK, cats)
		return
	}

	cats, err := s.categories.ListCategories(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list categories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load categories")
		return
	}

	s.categoryCache.Set(categoryCacheKey, cats)
	writeJSON(w, http.StatusOK, cats)
}

// handleCreateScan accepts a multipart receipt image, stores it, records
// a pending scan and hands extraction to the worker. Without a broker
// the extraction runs in-process instead.
func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	path, err := s.images.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedImage) {
			writeError(w, http.StatusUnsupportedMediaType, "image must be jpg, jpeg or png")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to store image", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	scan := &core.Scan{
		UserID:    auth.UserID(r.Context()),
		ImagePath: path,
	}
	if err := s.scans.CreateScan(r.Context(), scan); err != nil {
		slog.ErrorContext(r.Context(), "Failed to create scan", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create scan")
		return
	}

	s.dispatchScan(r.Context(), scan)

	writeJSON(w, http.StatusAccepted, scan)
}

// dispatchScan routes extraction to the broker when one is configured,
// otherwise runs it in-process so single-binary deployments still work.
func (s *Server) dispatchScan(ctx context.Context, scan *core.Scan) {
	if s.publisher != nil {
		if err := s.publisher.PublishScanJob(ctx, scan.ID); err == nil {
			return
		} else {
			slog.WarnContext(ctx, "Scan job publish failed, extracting inline",
				"scan_id", scan.ID, "error", err)
		}
	}

	if s.extractor == nil {
		if err := s.scans.MarkScanFailed(ctx, scan.ID, "extraction not configured"); err != nil {
			slog.ErrorContext(ctx, "Failed to mark scan failed", "scan_id", scan.ID, "error", err)
		}
		return
	}

	go s.extractInline(scan)
}

func (s *Server) extractInline(scan *core.Scan) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	image, err := s.images.Read(scan.ImagePath)
	if err != nil {
		s.failScan(ctx, scan.ID, "read image: "+err.Error())
		return
	}

	items, err := s.extractor.ExtractItems(ctx, image, mimeTypeForUpload(scan.ImagePath))
	if err != nil {
		s.failScan(ctx, scan.ID, err.Error())
		return
	}

	if err := s.scans.MarkScanDone(ctx, scan.ID, items); err != nil {
		slog.ErrorContext(ctx, "Failed to mark scan done", "scan_id", scan.ID, "error", err)
	}
}

func (s *Server) failScan(ctx context.Context, id, message string) {
	if err := s.scans.MarkScanFailed(ctx, id, message); err != nil {
		slog.ErrorContext(ctx, "Failed to mark scan failed", "scan_id", id, "error", err)
	}
}

func mimeTypeForUpload(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.scans.GetScan(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to get scan", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	writeJSON(w, http.StatusOK, scan)
}
