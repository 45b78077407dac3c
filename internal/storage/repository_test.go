package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"scontrino/internal/core"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestListCategoriesSeeded(t *testing.T) {
	repo := newTestRepository(t)

	cats, err := repo.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(cats) == 0 {
		t.Fatal("expected seeded categories, got none")
	}

	byID := make(map[string]string)
	for _, c := range cats {
		byID[c.ID] = c.Name
	}
	if byID["cat-groceries"] != "Groceries" {
		t.Errorf("cat-groceries = %q, want Groceries", byID["cat-groceries"])
	}
	if _, ok := byID["cat-other"]; !ok {
		t.Error("expected cat-other in seeded categories")
	}
}

func TestScanLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	scan := &core.Scan{UserID: "user-1", ImagePath: "/tmp/receipt.jpg"}
	if err := repo.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan() error = %v", err)
	}
	if scan.ID == "" {
		t.Fatal("CreateScan() did not assign an id")
	}

	got, err := repo.GetScan(ctx, scan.ID, "user-1")
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if got.Status != core.ScanPending {
		t.Errorf("new scan status = %q, want %q", got.Status, core.ScanPending)
	}
	if len(got.Items) != 0 {
		t.Errorf("new scan has %d items, want 0", len(got.Items))
	}

	items := []core.ScannedItem{
		{Name: "Milk", Price: core.Money{Cents: 399}, Category: "Groceries"},
		{Name: "Bread", Price: core.Money{Cents: 299}},
	}
	if err := repo.MarkScanDone(ctx, scan.ID, items); err != nil {
		t.Fatalf("MarkScanDone() error = %v", err)
	}

	got, err = repo.GetScan(ctx, scan.ID, "user-1")
	if err != nil {
		t.Fatalf("GetScan() after done error = %v", err)
	}
	if got.Status != core.ScanDone {
		t.Errorf("status = %q, want %q", got.Status, core.ScanDone)
	}
	if len(got.Items) != 2 || got.Items[0].Name != "Milk" || got.Items[0].Price.Cents != 399 {
		t.Errorf("unexpected items after done: %+v", got.Items)
	}
}

func TestScanOwnershipScoping(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	scan := &core.Scan{UserID: "user-1", ImagePath: "/tmp/r.png"}
	if err := repo.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan() error = %v", err)
	}

	if _, err := repo.GetScan(ctx, scan.ID, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetScan() as other user error = %v, want ErrNotFound", err)
	}
	// Empty user id is the worker path and bypasses scoping.
	if _, err := repo.GetScan(ctx, scan.ID, ""); err != nil {
		t.Errorf("GetScan() worker access error = %v", err)
	}
}

func TestMarkScanFailed(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	scan := &core.Scan{UserID: "user-1", ImagePath: "/tmp/r.jpg"}
	if err := repo.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan() error = %v", err)
	}
	if err := repo.MarkScanFailed(ctx, scan.ID, "extraction timed out"); err != nil {
		t.Fatalf("MarkScanFailed() error = %v", err)
	}

	got, err := repo.GetScan(ctx, scan.ID, "user-1")
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if got.Status != core.ScanFailed {
		t.Errorf("status = %q, want %q", got.Status, core.ScanFailed)
	}
	if got.Error != "extraction timed out" {
		t.Errorf("error = %q, want extraction timed out", got.Error)
	}

	if err := repo.MarkScanFailed(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkScanFailed() unknown id error = %v, want ErrNotFound", err)
	}
}

func sampleReceipt(userID string) *core.Receipt {
	return &core.Receipt{
		UserID: userID,
		Items: []core.ReceiptItem{
			{Name: "Milk", Price: core.Money{Cents: 399}, CategoryID: "cat-groceries", AssignedTo: userID},
			{Name: "Bread", Price: core.Money{Cents: 299}, AssignedTo: "person-1"},
			{Name: "Eggs", Price: core.Money{Cents: 450}},
		},
		Shares: []core.Share{
			{Name: "Anna", Items: []string{"item-1"}},
		},
	}
}

func TestSaveAndGetReceipt(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.SaveReceipt(ctx, sampleReceipt("user-1"))
	if err != nil {
		t.Fatalf("SaveReceipt() error = %v", err)
	}
	if id == "" {
		t.Fatal("SaveReceipt() returned empty id")
	}

	got, err := repo.GetReceipt(ctx, id, "user-1")
	if err != nil {
		t.Fatalf("GetReceipt() error = %v", err)
	}
	if got.Total.Cents != 399+299+450 {
		t.Errorf("total = %d, want %d", got.Total.Cents, 399+299+450)
	}
	if len(got.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(got.Items))
	}
	// Item order must survive the round trip.
	if got.Items[0].Name != "Milk" || got.Items[2].Name != "Eggs" {
		t.Errorf("item order not preserved: %+v", got.Items)
	}
	if len(got.Shares) != 1 || got.Shares[0].Name != "Anna" || len(got.Shares[0].Items) != 1 {
		t.Errorf("unexpected shares: %+v", got.Shares)
	}

	if _, err := repo.GetReceipt(ctx, id, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReceipt() as other user error = %v, want ErrNotFound", err)
	}
}

func TestSaveReceiptRejectsInvalid(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.SaveReceipt(context.Background(), &core.Receipt{UserID: "user-1"})
	if !errors.Is(err, core.ErrEmptyReceipt) {
		t.Errorf("SaveReceipt() empty error = %v, want ErrEmptyReceipt", err)
	}
}

func TestListAndDeleteReceipts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first, err := repo.SaveReceipt(ctx, sampleReceipt("user-1"))
	if err != nil {
		t.Fatalf("SaveReceipt() error = %v", err)
	}
	if _, err := repo.SaveReceipt(ctx, sampleReceipt("user-1")); err != nil {
		t.Fatalf("SaveReceipt() error = %v", err)
	}
	if _, err := repo.SaveReceipt(ctx, sampleReceipt("user-2")); err != nil {
		t.Fatalf("SaveReceipt() error = %v", err)
	}

	receipts, err := repo.ListReceipts(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("ListReceipts() error = %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("ListReceipts() = %d receipts, want 2", len(receipts))
	}
	for _, rec := range receipts {
		if rec.UserID != "user-1" {
			t.Errorf("listed receipt for %q, want user-1", rec.UserID)
		}
		if len(rec.Items) == 0 {
			t.Error("listed receipt missing items")
		}
	}

	if err := repo.DeleteReceipt(ctx, first, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteReceipt() as other user error = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteReceipt(ctx, first, "user-1"); err != nil {
		t.Fatalf("DeleteReceipt() error = %v", err)
	}
	if _, err := repo.GetReceipt(ctx, first, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetReceipt() after delete error = %v, want ErrNotFound", err)
	}
}

func TestExportBookkeeping(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.SaveReceipt(ctx, sampleReceipt("user-1"))
	if err != nil {
		t.Fatalf("SaveReceipt() error = %v", err)
	}

	pending, err := repo.PendingExports(ctx, 10)
	if err != nil {
		t.Fatalf("PendingExports() error = %v", err)
	}
	if len(pending) != 1 || pending[0] != id {
		t.Fatalf("PendingExports() = %v, want [%s]", pending, id)
	}

	rec, err := repo.GetReceiptForExport(ctx, id)
	if err != nil {
		t.Fatalf("GetReceiptForExport() error = %v", err)
	}
	if rec.UserID != "user-1" {
		t.Errorf("export receipt user = %q, want user-1", rec.UserID)
	}

	if err := repo.MarkExported(ctx, id); err != nil {
		t.Fatalf("MarkExported() error = %v", err)
	}
	pending, err = repo.PendingExports(ctx, 10)
	if err != nil {
		t.Fatalf("PendingExports() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("PendingExports() after export = %v, want empty", pending)
	}

	if err := repo.MarkExportError(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkExportError() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestImageStore(t *testing.T) {
	store, err := NewImageStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewImageStore() error = %v", err)
	}

	path, err := store.Save("receipt.JPG", strings.NewReader("fake image bytes"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Ext(path) != ".jpg" {
		t.Errorf("saved path %q, want .jpg extension", path)
	}

	data, err := store.Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "fake image bytes" {
		t.Errorf("Read() = %q", data)
	}

	if _, err := store.Save("notes.pdf", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Save() pdf error = %v, want ErrUnsupportedImage", err)
	}

	if _, err := store.Read("/etc/passwd"); err == nil {
		t.Error("Read() outside store dir should fail")
	}

	if err := store.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := store.Remove(path); err != nil {
		t.Errorf("Remove() missing file error = %v, want nil", err)
	}
}
