// Package storage persists scans, receipts and category reference data
// in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"scontrino/internal/core"
)

// ErrNotFound is returned when a row does not exist or belongs to a
// different user.
var ErrNotFound = errors.New("not found")

// Export lifecycle states for the Sheets ledger.
const (
	ExportPending = "pending"
	ExportDone    = "done"
	ExportError   = "error"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListCategories implements workspace.CategorySource.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name FROM categories ORDER BY position, name")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CreateScan inserts a pending scan record. A missing id is generated.
func (r *SQLiteRepository) CreateScan(ctx context.Context, s *core.Scan) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = core.ScanPending
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO scans (id, user_id, image_path, status, error, items_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', '[]', ?, ?)`,
		s.ID, s.UserID, s.ImagePath, s.Status, now, now)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}

	slog.InfoContext(ctx, "scan created", "scan_id", s.ID, "user_id", s.UserID)
	return nil
}

// GetScan loads a scan scoped to its owner. An empty userID skips the
// ownership check (worker access).
func (r *SQLiteRepository) GetScan(ctx context.Context, id, userID string) (*core.Scan, error) {
	query := "SELECT id, user_id, image_path, status, error, items_json, created_at, updated_at FROM scans WHERE id = ?"
	args := []any{id}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}

	var (
		s         core.Scan
		itemsJSON string
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.ID, &s.UserID, &s.ImagePath, &s.Status, &s.Error, &itemsJSON, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &s.Items); err != nil {
		return nil, fmt.Errorf("decode scan items: %w", err)
	}
	return &s, nil
}

// MarkScanDone stores the extracted items and flips the scan to done.
func (r *SQLiteRepository) MarkScanDone(ctx context.Context, id string, items []core.ScannedItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode scan items: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		"UPDATE scans SET status = ?, items_json = ?, error = '', updated_at = ? WHERE id = ?",
		core.ScanDone, string(data), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark scan done: %w", err)
	}
	return requireRow(res, id)
}

// MarkScanFailed records an extraction failure.
func (r *SQLiteRepository) MarkScanFailed(ctx context.Context, id, message string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE scans SET status = ?, error = ?, updated_at = ? WHERE id = ?",
		core.ScanFailed, message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark scan failed: %w", err)
	}
	return requireRow(res, id)
}

// SaveReceipt implements workspace.ReceiptSink: the receipt header, its
// items and its shares land in one transaction.
func (r *SQLiteRepository) SaveReceipt(ctx context.Context, receipt *core.Receipt) (string, error) {
	if err := receipt.Validate(); err != nil {
		return "", fmt.Errorf("validate receipt: %w", err)
	}
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	receipt.CreatedAt = time.Now().UTC()
	receipt.Total = receipt.GrandTotal()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO receipts (id, user_id, image_path, total_cents, export_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		receipt.ID, receipt.UserID, receipt.ImagePath, receipt.Total.Cents, ExportPending, receipt.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert receipt: %w", err)
	}

	for i, item := range receipt.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO receipt_items (receipt_id, position, name, price_cents, category_id, assigned_to)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			receipt.ID, i, item.Name, item.Price.Cents, item.CategoryID, item.AssignedTo)
		if err != nil {
			return "", fmt.Errorf("insert receipt item: %w", err)
		}
	}

	for _, share := range receipt.Shares {
		data, err := json.Marshal(share.Items)
		if err != nil {
			return "", fmt.Errorf("encode share items: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO receipt_shares (receipt_id, name, items_json) VALUES (?, ?, ?)",
			receipt.ID, share.Name, string(data))
		if err != nil {
			return "", fmt.Errorf("insert receipt share: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit receipt: %w", err)
	}

	slog.InfoContext(ctx, "receipt saved",
		"receipt_id", receipt.ID,
		"user_id", receipt.UserID,
		"amount_cents", receipt.Total.Cents,
		"item_count", len(receipt.Items))
	return receipt.ID, nil
}

// GetReceipt loads one receipt with items and shares, scoped to its
// owner.
func (r *SQLiteRepository) GetReceipt(ctx context.Context, id, userID string) (*core.Receipt, error) {
	var receipt core.Receipt
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, image_path, total_cents, created_at FROM receipts WHERE id = ? AND user_id = ?",
		id, userID).Scan(&receipt.ID, &receipt.UserID, &receipt.ImagePath, &receipt.Total.Cents, &receipt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", id, err)
	}

	if err := r.loadReceiptDetails(ctx, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ListReceipts returns the user's receipts, newest first.
func (r *SQLiteRepository) ListReceipts(ctx context.Context, userID string, limit, offset int) ([]core.Receipt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, image_path, total_cents, created_at FROM receipts
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []core.Receipt
	for rows.Next() {
		var receipt core.Receipt
		if err := rows.Scan(&receipt.ID, &receipt.UserID, &receipt.ImagePath, &receipt.Total.Cents, &receipt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt row: %w", err)
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range receipts {
		if err := r.loadReceiptDetails(ctx, &receipts[i]); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt owned by the user; items and shares
// cascade.
func (r *SQLiteRepository) DeleteReceipt(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM receipts WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	return requireRow(res, id)
}

// PendingExports returns ids of receipts not yet written to the Sheets
// ledger, oldest first.
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM receipts WHERE export_status = ? ORDER BY created_at LIMIT ?",
		ExportPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending export row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetReceiptForExport loads a receipt without owner scoping (worker
// access).
func (r *SQLiteRepository) GetReceiptForExport(ctx context.Context, id string) (*core.Receipt, error) {
	var receipt core.Receipt
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, image_path, total_cents, created_at FROM receipts WHERE id = ?",
		id).Scan(&receipt.ID, &receipt.UserID, &receipt.ImagePath, &receipt.Total.Cents, &receipt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", id, err)
	}
	if err := r.loadReceiptDetails(ctx, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// MarkExported flips a receipt's export state to done.
func (r *SQLiteRepository) MarkExported(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE receipts SET export_status = ? WHERE id = ?", ExportDone, id)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return requireRow(res, id)
}

// MarkExportError records an export failure; the periodic catch-up may
// retry it later by flipping it back to pending.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE receipts SET export_status = ? WHERE id = ?", ExportError, id)
	if err != nil {
		return fmt.Errorf("mark export error: %w", err)
	}
	return requireRow(res, id)
}

func (r *SQLiteRepository) loadReceiptDetails(ctx context.Context, receipt *core.Receipt) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, price_cents, category_id, assigned_to FROM receipt_items
		 WHERE receipt_id = ? ORDER BY position`, receipt.ID)
	if err != nil {
		return fmt.Errorf("list receipt items: %w", err)
	}
	defer rows.Close()

	receipt.Items = nil
	for rows.Next() {
		var item core.ReceiptItem
		if err := rows.Scan(&item.Name, &item.Price.Cents, &item.CategoryID, &item.AssignedTo); err != nil {
			return fmt.Errorf("scan receipt item row: %w", err)
		}
		receipt.Items = append(receipt.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	shareRows, err := r.db.QueryContext(ctx,
		"SELECT name, items_json FROM receipt_shares WHERE receipt_id = ? ORDER BY name", receipt.ID)
	if err != nil {
		return fmt.Errorf("list receipt shares: %w", err)
	}
	defer shareRows.Close()

	receipt.Shares = nil
	for shareRows.Next() {
		var (
			share     core.Share
			itemsJSON string
		)
		if err := shareRows.Scan(&share.Name, &itemsJSON); err != nil {
			return fmt.Errorf("scan receipt share row: %w", err)
		}
		if err := json.Unmarshal([]byte(itemsJSON), &share.Items); err != nil {
			return fmt.Errorf("decode share items: %w", err)
		}
		receipt.Shares = append(receipt.Shares, share)
	}
	return shareRows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}
