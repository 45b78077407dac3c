// Package sheets defines the outbound port for the receipt ledger.
package sheets

import (
	"context"

	"scontrino/internal/core"
)

// ReceiptAppender writes one finalized receipt to the ledger and
// returns a reference to the written row.
type ReceiptAppender interface {
	AppendReceipt(ctx context.Context, r *core.Receipt) (rowRef string, err error)
}
