// Package ocr extracts {name, price} line items from receipt images and
// assigns each a budget category.
package ocr

import (
	"context"

	"scontrino/internal/core"
)

// Extractor turns a receipt image into line items. Implementations must
// be safe for concurrent use.
type Extractor interface {
	ExtractItems(ctx context.Context, image []byte, mimeType string) ([]core.ScannedItem, error)
}
