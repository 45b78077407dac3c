package workspace

import (
	"time"

	"scontrino/internal/core"
)

// Snapshot is a consistent copy of the session for rendering: items,
// participants (sentinel last), the category list, totals and the
// submission banner.
type Snapshot struct {
	ID           string                `json:"id"`
	Items        []core.LineItem       `json:"items"`
	Unassigned   []core.LineItem       `json:"unassigned"`
	Participants []core.Participant    `json:"participants"`
	Categories   []core.Category       `json:"categories"`
	Totals       map[string]core.Money `json:"totals"`
	GrandTotal   core.Money            `json:"grandTotal"`
	Banner       Banner                `json:"banner"`
}

// Snapshot returns a deep copy of the current state. Mutating the result
// does not touch the session.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		ID:         w.id,
		Items:      make([]core.LineItem, 0, len(w.items)),
		Totals:     make(map[string]core.Money),
		GrandTotal: w.grandTotalLocked(),
		Banner: Banner{
			Submitting: w.submitting,
			Success:    !w.successUntil.IsZero() && time.Now().Before(w.successUntil),
			Error:      w.submitErr,
		},
	}

	for _, item := range w.items {
		snap.Items = append(snap.Items, *item)
		if item.AssignedTo == "" {
			snap.Unassigned = append(snap.Unassigned, *item)
		}
	}
	for _, p := range w.participants {
		cp := core.Participant{ID: p.ID, Name: p.Name, Items: append([]string(nil), p.Items...)}
		snap.Participants = append(snap.Participants, cp)
		if p.ID != core.ParticipantSentinel {
			snap.Totals[p.ID] = w.participantTotalLocked(p.ID)
		}
	}
	snap.Categories = append(snap.Categories, w.categories...)

	return snap
}

// buildReceiptLocked assembles the submission payload. The reserved "me"
// id is translated to the authenticated user's id; ad-hoc participant
// ids pass through as opaque tokens. sharedWith lists every non-reserved
// participant holding at least one item.
func (w *Workspace) buildReceiptLocked() *core.Receipt {
	r := &core.Receipt{
		UserID:    w.userID,
		ImagePath: w.imagePath,
		Total:     w.grandTotalLocked(),
	}

	for _, item := range w.items {
		assignedTo := item.AssignedTo
		if assignedTo == core.ParticipantMe {
			assignedTo = w.userID
		}
		r.Items = append(r.Items, core.ReceiptItem{
			Name:       item.Name,
			Price:      item.Price,
			CategoryID: item.CategoryID,
			AssignedTo: assignedTo,
		})
	}

	for _, p := range w.participants {
		if core.IsReserved(p.ID) || len(p.Items) == 0 {
			continue
		}
		r.Shares = append(r.Shares, core.Share{
			Name:  p.Name,
			Items: append([]string(nil), p.Items...),
		})
	}

	return r
}
