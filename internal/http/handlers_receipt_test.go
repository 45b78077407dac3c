package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"scontrino/internal/core"
)

func TestCreateReceiptDirect(t *testing.T) {
	env := newTestEnv(t, nil)

	data := `{
		"items": [
			{"name": "Milk", "price": 3.99, "categoryId": "cat-groceries", "assignedTo": "user-1"},
			{"name": "Bread", "price": "2.99"}
		],
		"sharedWith": [{"name": "Anna", "items": ["item-1"]}]
	}`
	body, ct := multipartImage(t, "receipt.jpg", map[string]string{"data": data})

	rr := env.do(t, http.MethodPost, "/receipts", body, ct)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create receipt status = %d, body %s", rr.Code, rr.Body)
	}

	var receipt core.Receipt
	if err := json.Unmarshal(rr.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if receipt.ID == "" {
		t.Error("response missing receipt id")
	}
	if receipt.UserID != "user-1" {
		t.Errorf("userId = %q, want user-1", receipt.UserID)
	}

	saved, err := env.receipts.GetReceipt(context.Background(), receipt.ID, "user-1")
	if err != nil {
		t.Fatalf("saved receipt not found: %v", err)
	}
	if saved.Total.Cents != 698 {
		t.Errorf("total = %d cents, want 698", saved.Total.Cents)
	}
	if saved.ImagePath == "" {
		t.Error("saved receipt missing image path")
	}
}

func TestCreateReceiptErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		data string
		want int
	}{
		{"missing data", "", http.StatusBadRequest},
		{"malformed json", "{not json", http.StatusBadRequest},
		{"no items", `{"items": []}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extra := map[string]string{}
			if tt.data != "" {
				extra["data"] = tt.data
			}
			body, ct := multipartImage(t, "receipt.jpg", extra)
			rr := env.do(t, http.MethodPost, "/receipts", body, ct)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body)
			}

			// Failures always carry the {message} shape.
			var resp map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if resp["message"] == "" {
				t.Error("error body missing message field")
			}
		})
	}
}

func TestListGetDeleteReceipts(t *testing.T) {
	env := newTestEnv(t, nil)

	id, err := env.receipts.SaveReceipt(context.Background(), &core.Receipt{
		UserID: "user-1",
		Items:  []core.ReceiptItem{{Name: "Milk", Price: core.Money{Cents: 399}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.receipts.SaveReceipt(context.Background(), &core.Receipt{
		UserID: "user-2",
		Items:  []core.ReceiptItem{{Name: "Wine", Price: core.Money{Cents: 1200}}},
	}); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/receipts", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var listed []core.Receipt
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed %d receipts, want only user-1's", len(listed))
	}

	rr = env.do(t, http.MethodGet, "/receipts/"+id, nil, "")
	if rr.Code != http.StatusOK {
		t.Errorf("get status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/receipts/nope", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/receipts/"+id, nil, "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, "/receipts/"+id, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestListReceiptsEmptyIsArray(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/receipts", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if got := rr.Body.String(); got != "[]\n" {
		t.Errorf("empty list body = %q, want []", got)
	}
}
