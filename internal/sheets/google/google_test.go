package google

import (
	"context"
	"testing"

	"scontrino/internal/core"
)

func TestSummarizeItems(t *testing.T) {
	tests := []struct {
		name  string
		items []core.ReceiptItem
		want  string
	}{
		{
			name:  "single item",
			items: []core.ReceiptItem{{Name: "Milk"}},
			want:  "Milk",
		},
		{
			name:  "three items fit",
			items: []core.ReceiptItem{{Name: "Milk"}, {Name: "Bread"}, {Name: "Eggs"}},
			want:  "Milk, Bread, Eggs",
		},
		{
			name: "overflow is counted",
			items: []core.ReceiptItem{
				{Name: "Milk"}, {Name: "Bread"}, {Name: "Eggs"}, {Name: "Gum"}, {Name: "Soap"},
			},
			want: "Milk, Bread, Eggs (+2 more)",
		},
		{
			name:  "no items",
			items: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := summarizeItems(tt.items); got != tt.want {
				t.Errorf("summarizeItems() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeShares(t *testing.T) {
	if got := summarizeShares(nil); got != "" {
		t.Errorf("summarizeShares(nil) = %q, want empty", got)
	}
	got := summarizeShares([]core.Share{{Name: "Anna"}, {Name: "Marco"}})
	if got != "Anna, Marco" {
		t.Errorf("summarizeShares() = %q, want Anna, Marco", got)
	}
}

func TestAppendReceiptRejectsInvalid(t *testing.T) {
	c := &Client{spreadsheetID: "sheet", sheetName: "Receipts"}

	if _, err := c.AppendReceipt(context.Background(), &core.Receipt{UserID: "u"}); err == nil {
		t.Error("AppendReceipt() with no items should fail validation")
	}
}
