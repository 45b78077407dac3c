package core

import (
	"errors"
	"strings"
	"time"
)

// Reserved participant ids. "me" maps to the authenticated user at
// submission time; "other" is the Add Person placeholder and is never a
// valid drop target.
const (
	ParticipantMe       = "me"
	ParticipantSentinel = "other"

	// Unassigned is the pseudo-bucket for items not assigned to anyone.
	Unassigned = "unassigned"
)

// Scan lifecycle states.
const (
	ScanPending ScanStatus = "pending"
	ScanDone    ScanStatus = "done"
	ScanFailed  ScanStatus = "failed"
)

type (
	ScanStatus string

	// LineItem is one parsed entry from a scanned receipt. AssignedTo is
	// empty while the item sits in the unassigned pool, otherwise it holds
	// exactly one participant id.
	LineItem struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Price      Money  `json:"price"`
		CategoryID string `json:"categoryId,omitempty"`
		AssignedTo string `json:"assignedTo,omitempty"`
	}

	// Participant is a person that receipt items can be assigned to:
	// the user ("me"), an ad-hoc named person, or the sentinel entry.
	Participant struct {
		ID    string   `json:"id"`
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}

	// Category is read-only reference data owned by the backend.
	Category struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// ScannedItem is one {name, price} pair extracted by the OCR service,
	// with an optional category hint from the categorization pass.
	ScannedItem struct {
		Name     string `json:"name"`
		Price    Money  `json:"price"`
		Category string `json:"category,omitempty"`
	}

	// Scan is one uploaded receipt image awaiting (or holding) extraction
	// results.
	Scan struct {
		ID        string        `json:"id"`
		UserID    string        `json:"userId"`
		ImagePath string        `json:"-"`
		Status    ScanStatus    `json:"status"`
		Error     string        `json:"error,omitempty"`
		Items     []ScannedItem `json:"items,omitempty"`
		CreatedAt time.Time     `json:"createdAt"`
		UpdatedAt time.Time     `json:"updatedAt"`
	}

	// Receipt is a finalized, persisted assignment.
	Receipt struct {
		ID        string        `json:"id"`
		UserID    string        `json:"userId"`
		ImagePath string        `json:"-"`
		Items     []ReceiptItem `json:"items"`
		Shares    []Share       `json:"sharedWith"`
		Total     Money         `json:"totalAmount"`
		CreatedAt time.Time     `json:"createdAt"`
	}

	// ReceiptItem is one line of a finalized receipt. AssignedTo carries
	// the authenticated user's id (translated from "me") or the opaque
	// participant id; empty means the item stayed unassigned.
	ReceiptItem struct {
		Name       string `json:"name"`
		Price      Money  `json:"price"`
		CategoryID string `json:"categoryId,omitempty"`
		AssignedTo string `json:"assignedTo,omitempty"`
	}

	// Share records one non-reserved participant and the item ids they
	// were assigned.
	Share struct {
		Name  string   `json:"name"`
		Items []string `json:"items"`
	}
)

var (
	ErrInvalidPrice    = errors.New("invalid price")
	ErrItemNotFound    = errors.New("line item not found")
	ErrNoSuchBucket    = errors.New("no such participant")
	ErrSentinelTarget  = errors.New("placeholder participant cannot receive items")
	ErrBlankName       = errors.New("blank participant name")
	ErrEmptyReceipt    = errors.New("receipt has no items")
	ErrWorkspaceClosed = errors.New("workspace closed")
)

// IsReserved reports whether id names one of the two built-in
// participants.
func IsReserved(id string) bool {
	return id == ParticipantMe || id == ParticipantSentinel
}

// Validate checks a finalized receipt before persistence.
func (r Receipt) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("empty user id")
	}
	if len(r.Items) == 0 {
		return ErrEmptyReceipt
	}
	for _, it := range r.Items {
		if strings.TrimSpace(it.Name) == "" {
			return errors.New("item with empty name")
		}
		if it.Price.Cents < 0 {
			return ErrInvalidPrice
		}
	}
	return nil
}

// GrandTotal sums every item's price regardless of assignment.
func (r Receipt) GrandTotal() Money {
	var cents int64
	for _, it := range r.Items {
		cents += it.Price.Cents
	}
	return Money{Cents: cents}
}
