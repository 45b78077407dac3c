package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scontrino/internal/amqp"
	"scontrino/internal/core"
	"scontrino/internal/sheets"
)

// ExportStore is the slice of storage the export worker needs.
type ExportStore interface {
	GetReceiptForExport(ctx context.Context, id string) (*core.Receipt, error)
	PendingExports(ctx context.Context, limit int) ([]string, error)
	MarkExported(ctx context.Context, id string) error
	MarkExportError(ctx context.Context, id string) error
}

// ExportWorker appends saved receipts to the Sheets ledger.
type ExportWorker struct {
	storage   ExportStore
	appender  sheets.ReceiptAppender
	batchSize int
}

func NewExportWorker(storage ExportStore, appender sheets.ReceiptAppender, batchSize int) *ExportWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &ExportWorker{
		storage:   storage,
		appender:  appender,
		batchSize: batchSize,
	}
}

// HandleExportJob processes one export job from AMQP.
func (w *ExportWorker) HandleExportJob(ctx context.Context, msg *amqp.ExportJobMessage) error {
	slog.InfoContext(ctx, "Processing export job", "receipt_id", msg.ReceiptID)
	return w.export(ctx, msg.ReceiptID)
}

// ProcessPendingReceipts exports receipts that never got a message.
// This is a backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPendingReceipts(ctx context.Context) error {
	return w.processPending(ctx, w.batchSize)
}

// StartupExportCheck runs a larger catch-up pass at worker startup to
// recover from missed messages or worker downtime.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	return w.processPending(ctx, w.batchSize*5)
}

// RunPeriodic calls ProcessPendingReceipts on every tick until ctx is
// done.
func (w *ExportWorker) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessPendingReceipts(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic export pass failed", "error", err)
			}
		}
	}
}

func (w *ExportWorker) processPending(ctx context.Context, limit int) error {
	pending, err := w.storage.PendingExports(ctx, limit)
	if err != nil {
		return fmt.Errorf("get pending exports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	exported := 0
	for _, id := range pending {
		if err := w.export(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to export receipt", "receipt_id", id, "error", err)
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Export pass completed",
		"total", len(pending),
		"exported", exported,
		"errors", len(pending)-exported)
	return nil
}

func (w *ExportWorker) export(ctx context.Context, id string) error {
	receipt, err := w.storage.GetReceiptForExport(ctx, id)
	if err != nil {
		return fmt.Errorf("get receipt from storage: %w", err)
	}

	ref, err := w.appender.AppendReceipt(ctx, receipt)
	if err != nil {
		if markErr := w.storage.MarkExportError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "receipt_id", id, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.storage.MarkExported(ctx, id); err != nil {
		// The row landed in the ledger; the mark can be retried later.
		slog.ErrorContext(ctx, "Failed to mark as exported", "receipt_id", id, "error", err)
	}

	slog.InfoContext(ctx, "Receipt exported",
		"receipt_id", id,
		"sheets_ref", ref,
		"amount_cents", receipt.Total.Cents)
	return nil
}
