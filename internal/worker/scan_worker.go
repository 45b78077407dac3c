// Package worker runs the async halves of the receipt pipeline: OCR
// extraction for uploaded scans and ledger export for saved receipts.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"scontrino/internal/amqp"
	"scontrino/internal/core"
	"scontrino/internal/ocr"
)

// ScanStore is the slice of storage the scan worker needs.
type ScanStore interface {
	GetScan(ctx context.Context, id, userID string) (*core.Scan, error)
	MarkScanDone(ctx context.Context, id string, items []core.ScannedItem) error
	MarkScanFailed(ctx context.Context, id, message string) error
}

// ImageReader loads a stored receipt image by path.
type ImageReader interface {
	Read(path string) ([]byte, error)
}

// ScanWorker turns pending scans into extracted line items.
type ScanWorker struct {
	storage   ScanStore
	images    ImageReader
	extractor ocr.Extractor
}

func NewScanWorker(storage ScanStore, images ImageReader, extractor ocr.Extractor) *ScanWorker {
	return &ScanWorker{
		storage:   storage,
		images:    images,
		extractor: extractor,
	}
}

// HandleScanJob processes one scan job from AMQP. Extraction failures
// are recorded on the scan and not returned, so the message is acked
// instead of requeueing a receipt that will never parse.
func (w *ScanWorker) HandleScanJob(ctx context.Context, msg *amqp.ScanJobMessage) error {
	slog.InfoContext(ctx, "Processing scan job", "scan_id", msg.ScanID)

	scan, err := w.storage.GetScan(ctx, msg.ScanID, "")
	if err != nil {
		return fmt.Errorf("get scan from storage: %w", err)
	}
	if scan.Status != core.ScanPending {
		slog.InfoContext(ctx, "Scan already processed, skipping",
			"scan_id", scan.ID, "status", scan.Status)
		return nil
	}

	items, err := w.extract(ctx, scan)
	if err != nil {
		slog.ErrorContext(ctx, "Extraction failed",
			"scan_id", scan.ID, "error", err)
		if markErr := w.storage.MarkScanFailed(ctx, scan.ID, err.Error()); markErr != nil {
			return fmt.Errorf("mark scan failed: %w", markErr)
		}
		return nil
	}

	if err := w.storage.MarkScanDone(ctx, scan.ID, items); err != nil {
		return fmt.Errorf("mark scan done: %w", err)
	}

	slog.InfoContext(ctx, "Scan processed",
		"scan_id", scan.ID,
		"item_count", len(items))
	return nil
}

func (w *ScanWorker) extract(ctx context.Context, scan *core.Scan) ([]core.ScannedItem, error) {
	image, err := w.images.Read(scan.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return w.extractor.ExtractItems(ctx, image, mimeTypeForPath(scan.ImagePath))
}

func mimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
