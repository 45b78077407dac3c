package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"scontrino/internal/auth"
	"scontrino/internal/core"
	"scontrino/internal/storage"
	"scontrino/internal/workspace"
)

const testSecret = "unit-test-secret-32-bytes-long!!!"

type fakeCategoryStore struct {
	mu    sync.Mutex
	cats  []core.Category
	calls int
}

func (f *fakeCategoryStore) ListCategories(context.Context) ([]core.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.cats, nil
}

func (f *fakeCategoryStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeScanStore struct {
	mu    sync.Mutex
	scans map[string]*core.Scan
	next  int
}

func newFakeScanStore() *fakeScanStore {
	return &fakeScanStore{scans: make(map[string]*core.Scan)}
}

func (f *fakeScanStore) CreateScan(_ context.Context, s *core.Scan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	if s.ID == "" {
		s.ID = fmt.Sprintf("scan-%d", f.next)
	}
	if s.Status == "" {
		s.Status = core.ScanPending
	}
	cp := *s
	f.scans[s.ID] = &cp
	return nil
}

func (f *fakeScanStore) GetScan(_ context.Context, id, userID string) (*core.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scans[id]
	if !ok || (userID != "" && s.UserID != userID) {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeScanStore) MarkScanDone(_ context.Context, id string, items []core.ScannedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scans[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Status = core.ScanDone
	s.Items = items
	return nil
}

func (f *fakeScanStore) MarkScanFailed(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scans[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.Status = core.ScanFailed
	s.Error = message
	return nil
}

type fakeReceiptStore struct {
	mu       sync.Mutex
	receipts map[string]*core.Receipt
	next     int
}

func newFakeReceiptStore() *fakeReceiptStore {
	return &fakeReceiptStore{receipts: make(map[string]*core.Receipt)}
}

// SaveReceipt implements workspace.ReceiptSink.
func (f *fakeReceiptStore) SaveReceipt(_ context.Context, r *core.Receipt) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("receipt-%d", f.next)
	cp := *r
	cp.ID = id
	cp.Total = r.GrandTotal()
	f.receipts[id] = &cp
	return id, nil
}

func (f *fakeReceiptStore) GetReceipt(_ context.Context, id, userID string) (*core.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[id]
	if !ok || r.UserID != userID {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReceiptStore) ListReceipts(_ context.Context, userID string, limit, offset int) ([]core.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Receipt
	for _, r := range f.receipts {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeReceiptStore) DeleteReceipt(_ context.Context, id, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[id]
	if !ok || r.UserID != userID {
		return storage.ErrNotFound
	}
	delete(f.receipts, id)
	return nil
}

type fakeImageStore struct {
	mu    sync.Mutex
	files map[string][]byte
	next  int
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{files: make(map[string][]byte)}
}

func (f *fakeImageStore) Save(originalName string, r io.Reader) (string, error) {
	ext := ""
	for _, allowed := range []string{".jpg", ".jpeg", ".png"} {
		if len(originalName) >= len(allowed) &&
			originalName[len(originalName)-len(allowed):] == allowed {
			ext = allowed
		}
	}
	if ext == "" {
		return "", storage.ErrUnsupportedImage
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	path := fmt.Sprintf("/img/%d%s", f.next, ext)
	f.files[path] = data
	return path, nil
}

func (f *fakeImageStore) Read(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such image")
	}
	return data, nil
}

type fakeExtractor struct {
	items []core.ScannedItem
	err   error
}

func (f *fakeExtractor) ExtractItems(context.Context, []byte, string) ([]core.ScannedItem, error) {
	return f.items, f.err
}

type fakePublisher struct {
	mu    sync.Mutex
	scans []string
	err   error
}

func (f *fakePublisher) PublishScanJob(_ context.Context, scanID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scans = append(f.scans, scanID)
	return nil
}

type testEnv struct {
	server   *Server
	scans    *fakeScanStore
	receipts *fakeReceiptStore
	images   *fakeImageStore
	cats     *fakeCategoryStore
	token    string
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	cats := &fakeCategoryStore{cats: []core.Category{
		{ID: "cat-groceries", Name: "Groceries"},
		{ID: "cat-other", Name: "Other"},
	}}
	scans := newFakeScanStore()
	receipts := newFakeReceiptStore()
	images := newFakeImageStore()
	jwt := auth.NewJWTManager(testSecret, time.Hour)

	deps := Deps{
		Categories: cats,
		Scans:      scans,
		Receipts:   receipts,
		Images:     images,
		Sessions:   workspace.NewManager(cats, receipts),
		Sink:       receipts,
		Extractor: &fakeExtractor{items: []core.ScannedItem{
			{Name: "Milk", Price: core.Money{Cents: 399}},
			{Name: "Bread", Price: core.Money{Cents: 299}},
		}},
		JWT: jwt,
	}
	if mutate != nil {
		mutate(&deps)
	}

	server := NewServer(":0", deps)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	token, err := jwt.Generate("user-1", "anna@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	return &testEnv{
		server:   server,
		scans:    scans,
		receipts: receipts,
		images:   images,
		cats:     cats,
		token:    token,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	return e.do(t, method, path, body, "application/json")
}

func multipartImage(t *testing.T, filename string, extra map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("fake image bytes")); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range extra {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		env.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rr.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/receipts", nil)
	rr := httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/receipts", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr = httptest.NewRecorder()
	env.server.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rr.Code)
	}
}

func TestListCategoriesCached(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		env.server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/categories", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("categories status = %d", rr.Code)
		}
	}

	// Only the first request hits the store.
	if got := env.cats.callCount(); got != 1 {
		t.Errorf("store queried %d times, want 1", got)
	}
}

func TestCreateScanPublishesJob(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, func(d *Deps) { d.Publisher = pub })

	body, ct := multipartImage(t, "receipt.jpg", nil)
	rr := env.do(t, http.MethodPost, "/scans", body, ct)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create scan status = %d, body %s", rr.Code, rr.Body)
	}

	var scan core.Scan
	if err := json.Unmarshal(rr.Body.Bytes(), &scan); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if scan.Status != core.ScanPending {
		t.Errorf("scan status = %q, want pending", scan.Status)
	}
	if len(pub.scans) != 1 || pub.scans[0] != scan.ID {
		t.Errorf("published jobs = %v, want [%s]", pub.scans, scan.ID)
	}
}

func TestCreateScanInlineFallback(t *testing.T) {
	env := newTestEnv(t, nil) // no publisher configured

	body, ct := multipartImage(t, "receipt.png", nil)
	rr := env.do(t, http.MethodPost, "/scans", body, ct)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create scan status = %d, body %s", rr.Code, rr.Body)
	}

	var scan core.Scan
	if err := json.Unmarshal(rr.Body.Bytes(), &scan); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// Inline extraction runs in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := env.scans.GetScan(context.Background(), scan.ID, "user-1")
		if err != nil {
			t.Fatalf("get scan: %v", err)
		}
		if got.Status == core.ScanDone {
			if len(got.Items) != 2 {
				t.Errorf("extracted %d items, want 2", len(got.Items))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan never completed, status %q", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateScanRejectsUnsupportedImage(t *testing.T) {
	env := newTestEnv(t, nil)

	body, ct := multipartImage(t, "notes.pdf", nil)
	rr := env.do(t, http.MethodPost, "/scans", body, ct)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("pdf upload status = %d, want 415", rr.Code)
	}

	body, ct = multipartImage(t, "", nil)
	rr = env.do(t, http.MethodPost, "/scans", body, ct)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing file status = %d, want 400", rr.Code)
	}
}

func TestGetScanScopedToOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	scan := &core.Scan{UserID: "someone-else", ImagePath: "/img/x.jpg"}
	if err := env.scans.CreateScan(context.Background(), scan); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/scans/"+scan.ID, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("other user's scan status = %d, want 404", rr.Code)
	}
}
