// Package workspace implements the item assignment session that backs
// the receipt review screen: line items extracted from a scan, the
// participants they can be dragged onto, inline price and category
// edits, per-participant totals and the final submission.
//
// A Workspace is a single-session, in-memory structure. Every operation
// takes the workspace mutex, validates first and mutates second, so the
// bidirectional mapping between LineItem.AssignedTo and Participant.Items
// can never be observed half-updated.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"scontrino/internal/core"
	"scontrino/internal/log"
)

// CategorySource provides the read-only category reference list.
type CategorySource interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
}

// ReceiptSink persists a finalized receipt and returns its id.
type ReceiptSink interface {
	SaveReceipt(ctx context.Context, r *core.Receipt) (string, error)
}

// SinkError carries a user-facing message from the persistence layer.
// Any other error shape falls back to a generic string on the banner.
type SinkError struct {
	Message string
}

func (e *SinkError) Error() string { return e.Message }

// genericSubmitError is shown when the sink fails without a usable
// message, mirroring the review screen's fallback copy.
const genericSubmitError = "Failed to save receipt. Please try again."

// Banner is the transient submission feedback shown to the user.
type Banner struct {
	Submitting bool   `json:"submitting"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// Workspace holds one scan-review session.
type Workspace struct {
	mu sync.Mutex

	id        string
	userID    string
	imagePath string

	items        []*core.LineItem
	itemIndex    map[string]*core.LineItem
	participants []*core.Participant
	categories   []core.Category

	closed     bool
	generation uint64
	touchedAt  time.Time

	submitting   bool
	submitErr    string
	successUntil time.Time
	successTTL   time.Duration

	source CategorySource
	sink   ReceiptSink
	logger *log.Logger
}

// Option configures a Workspace at construction time.
type Option func(*Workspace)

// WithSuccessTTL overrides how long the success banner stays visible
// after a submission. Default 3 seconds.
func WithSuccessTTL(d time.Duration) Option {
	return func(w *Workspace) { w.successTTL = d }
}

// WithLogger attaches a logger; a discarding default is used otherwise.
func WithLogger(l *log.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// New builds a workspace for the given scanned items. Items get
// sequential stable ids ("item-0", "item-1", …), no category and start
// unassigned. The category list is fetched asynchronously through the
// source; a fetch failure is logged and leaves the selector empty. A
// fetch that completes after Close is discarded.
func New(id, userID, imagePath string, scanned []core.ScannedItem, source CategorySource, sink ReceiptSink, opts ...Option) *Workspace {
	w := &Workspace{
		id:         id,
		userID:     userID,
		imagePath:  imagePath,
		itemIndex:  make(map[string]*core.LineItem, len(scanned)),
		touchedAt:  time.Now(),
		successTTL: 3 * time.Second,
		source:     source,
		sink:       sink,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.Discard()
	}

	for i, s := range scanned {
		item := &core.LineItem{
			ID:    fmt.Sprintf("item-%d", i),
			Name:  s.Name,
			Price: s.Price,
		}
		w.items = append(w.items, item)
		w.itemIndex[item.ID] = item
	}

	w.participants = []*core.Participant{
		{ID: core.ParticipantMe, Name: "Me"},
		{ID: core.ParticipantSentinel, Name: "Add Person"},
	}

	if source != nil {
		go w.fetchCategories()
	}

	return w
}

func (w *Workspace) fetchCategories() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cats, err := w.source.ListCategories(ctx)
	if err != nil {
		// Non-fatal: the category selector simply stays empty.
		w.logger.Warn("category fetch failed", log.FieldWorkspaceID, w.id, log.FieldError, err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		// The session was torn down while the fetch was in flight.
		return
	}
	w.categories = cats
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return w.id }

// MoveItem reassigns an item between the unassigned pool and participant
// buckets, inserting it at targetIndex in the destination list. Moving an
// item to the exact position it already occupies changes nothing. The
// sentinel participant is never a valid destination.
func (w *Workspace) MoveItem(itemID, from, to string, targetIndex int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return core.ErrWorkspaceClosed
	}

	item, ok := w.itemIndex[itemID]
	if !ok {
		return fmt.Errorf("move %q: %w", itemID, core.ErrItemNotFound)
	}

	if to == core.ParticipantSentinel {
		return core.ErrSentinelTarget
	}

	// A stale drag event naming the wrong source would break the
	// item/bucket agreement if applied.
	actual := item.AssignedTo
	if actual == "" {
		actual = core.Unassigned
	}
	if from != actual {
		return fmt.Errorf("item %q is in %q, not %q: %w", itemID, actual, from, core.ErrNoSuchBucket)
	}

	var src, dst *core.Participant
	if from != core.Unassigned {
		if src = w.findParticipant(from); src == nil {
			return fmt.Errorf("move from %q: %w", from, core.ErrNoSuchBucket)
		}
	}
	if to != core.Unassigned {
		if dst = w.findParticipant(to); dst == nil {
			return fmt.Errorf("move to %q: %w", to, core.ErrNoSuchBucket)
		}
	}

	// Exact-position drop: nothing to do, and nothing may change.
	if from == to {
		if to == core.Unassigned {
			return nil
		}
		if idx := indexOf(dst.Items, itemID); idx == targetIndex {
			return nil
		}
	}

	// Validation done; from here on the update is applied in full.
	if src != nil {
		src.Items = remove(src.Items, itemID)
	}
	if dst != nil {
		dst.Items = insertAt(dst.Items, itemID, targetIndex)
		item.AssignedTo = dst.ID
	} else {
		item.AssignedTo = ""
	}

	w.noteUserAction()
	return nil
}

// SetItemPrice updates an item's price from raw user input. Anything
// that does not parse as a non-negative decimal becomes 0 — the review
// screen has always coerced rather than rejected.
func (w *Workspace) SetItemPrice(itemID, raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return core.ErrWorkspaceClosed
	}

	item, ok := w.itemIndex[itemID]
	if !ok {
		return fmt.Errorf("set price %q: %w", itemID, core.ErrItemNotFound)
	}

	item.Price = core.Money{Cents: core.CoercePriceToCents(raw)}
	w.noteUserAction()
	return nil
}

// SetItemCategory assigns a category id to an item. The id is not
// validated against the reference list; the backend owns that data.
func (w *Workspace) SetItemCategory(itemID, categoryID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return core.ErrWorkspaceClosed
	}

	item, ok := w.itemIndex[itemID]
	if !ok {
		return fmt.Errorf("set category %q: %w", itemID, core.ErrItemNotFound)
	}

	item.CategoryID = categoryID
	w.noteUserAction()
	return nil
}

// AddParticipant creates a named participant with no items, inserted
// immediately before the sentinel entry. Blank names are rejected
// silently (no state change, ErrBlankName for the caller to ignore).
// The id is derived from the current time; uniqueness is best-effort.
func (w *Workspace) AddParticipant(name string) (core.Participant, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return core.Participant{}, core.ErrWorkspaceClosed
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return core.Participant{}, core.ErrBlankName
	}

	p := &core.Participant{
		ID:   fmt.Sprintf("person-%d", time.Now().UnixMilli()),
		Name: name,
	}

	// Keep the sentinel last: insert just before it.
	n := len(w.participants)
	w.participants = append(w.participants[:n-1], p, w.participants[n-1])

	w.noteUserAction()
	return *p, nil
}

// ParticipantTotal sums the prices of the items in a participant's
// bucket. Unknown participants and dangling item references count as 0.
func (w *Workspace) ParticipantTotal(participantID string) core.Money {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.participantTotalLocked(participantID)
}

func (w *Workspace) participantTotalLocked(participantID string) core.Money {
	p := w.findParticipant(participantID)
	if p == nil {
		return core.Money{}
	}
	var cents int64
	for _, itemID := range p.Items {
		if item, ok := w.itemIndex[itemID]; ok {
			cents += item.Price.Cents
		}
	}
	return core.Money{Cents: cents}
}

// GrandTotal sums every item's price regardless of assignment.
func (w *Workspace) GrandTotal() core.Money {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.grandTotalLocked()
}

func (w *Workspace) grandTotalLocked() core.Money {
	var cents int64
	for _, item := range w.items {
		cents += item.Price.Cents
	}
	return core.Money{Cents: cents}
}

// Submit builds the finalized payload and hands it to the sink. A second
// call while one is outstanding is a no-op. Success shows a transient
// banner and keeps the session editable; failure keeps the sink's
// message (or a generic fallback) on the banner until the next attempt.
func (w *Workspace) Submit(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return core.ErrWorkspaceClosed
	}
	if w.submitting {
		w.mu.Unlock()
		return nil
	}
	if w.sink == nil {
		w.mu.Unlock()
		return errors.New("no receipt sink configured")
	}
	w.submitting = true
	w.submitErr = ""
	w.successUntil = time.Time{}
	receipt := w.buildReceiptLocked()
	w.mu.Unlock()

	id, err := w.sink.SaveReceipt(ctx, receipt)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitting = false
	w.touchedAt = time.Now()
	if err != nil {
		var sinkErr *SinkError
		if errors.As(err, &sinkErr) && sinkErr.Message != "" {
			w.submitErr = sinkErr.Message
		} else {
			w.submitErr = genericSubmitError
		}
		w.logger.WarnContext(ctx, "receipt submission failed",
			log.FieldWorkspaceID, w.id, log.FieldError, err)
		return err
	}

	w.successUntil = time.Now().Add(w.successTTL)
	w.logger.InfoContext(ctx, "receipt submitted",
		log.FieldWorkspaceID, w.id,
		log.FieldReceiptID, id,
		log.FieldAmountCents, receipt.Total.Cents)
	return nil
}

// Banner reports the current submission feedback state.
func (w *Workspace) Banner() Banner {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Banner{
		Submitting: w.submitting,
		Success:    !w.successUntil.IsZero() && time.Now().Before(w.successUntil),
		Error:      w.submitErr,
	}
}

// Close discards the session. Further operations fail with
// ErrWorkspaceClosed and late category fetches are dropped.
func (w *Workspace) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// IdleSince returns the time of the last user action.
func (w *Workspace) IdleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.touchedAt
}

// Generation returns a counter bumped by every state-changing user
// action; exact-position moves and rejected edits leave it untouched.
func (w *Workspace) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation
}

// noteUserAction bumps the generation, refreshes the idle timestamp and
// clears a lingering submission error.
func (w *Workspace) noteUserAction() {
	w.generation++
	w.touchedAt = time.Now()
	w.submitErr = ""
}

func (w *Workspace) findParticipant(id string) *core.Participant {
	for _, p := range w.participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func insertAt(ids []string, id string, idx int) []string {
	if idx < 0 {
		idx = 0
	}
	if idx > len(ids) {
		idx = len(ids)
	}
	ids = append(ids, "")
	copy(ids[idx+1:], ids[idx:])
	ids[idx] = id
	return ids
}
