// Package memory is an in-process ReceiptAppender used in development
// and tests when no spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"scontrino/internal/core"
	"scontrino/internal/sheets"
)

type Store struct {
	mu       sync.Mutex
	receipts []core.Receipt
}

var _ sheets.ReceiptAppender = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendReceipt stores the receipt and returns a synthetic row
// reference.
func (s *Store) AppendReceipt(_ context.Context, r *core.Receipt) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, *r)
	return fmt.Sprintf("mem:%d", len(s.receipts)), nil
}

// Receipts returns a copy of everything appended so far.
func (s *Store) Receipts() []core.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Receipt(nil), s.receipts...)
}
