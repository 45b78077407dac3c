// Package core holds the domain types shared by the workspace, storage
// and worker layers: line items, participants, scans, receipts and the
// cents-based Money representation.
package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Money is an amount in cents. All arithmetic happens on cents; floats
// only appear at the JSON boundary.
type Money struct {
	Cents int64
}

// ParsePriceToCents converts a decimal string to cents with half-up
// rounding on the third decimal place. It accepts both dot (12.34) and
// comma (12,34) separators. Zero is a valid price; negative values and
// malformed input return ErrInvalidPrice.
//
// Examples:
//
//	ParsePriceToCents("12.34") -> 1234, nil
//	ParsePriceToCents("12,34") -> 1234, nil
//	ParsePriceToCents("0")     -> 0, nil
//	ParsePriceToCents("-1")    -> 0, ErrInvalidPrice
func ParsePriceToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidPrice
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidPrice
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidPrice
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidPrice
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidPrice
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidPrice
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidPrice
	}
	// Take first two fractional digits; half-up rounding on the third
	var fracCents int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		fracCents = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			fracCents += d2
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	return iv*100 + fracCents, nil
}

// CoercePriceToCents parses a raw price string the way the review UI
// does: anything that is not a valid non-negative decimal becomes 0.
func CoercePriceToCents(s string) int64 {
	cents, err := ParsePriceToCents(s)
	if err != nil {
		return 0
	}
	return cents
}

// Decimal returns the amount as a "12.34" string.
func (m Money) Decimal() string {
	neg := m.Cents < 0
	c := m.Cents
	if neg {
		c = -c
	}
	s := fmt.Sprintf("%d.%02d", c/100, c%100)
	if neg {
		return "-" + s
	}
	return s
}

// MarshalJSON emits the amount as a plain JSON number with two decimals,
// matching the wire format the SPA and the OCR service use.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	cents, err := ParsePriceToCents(s)
	if err != nil {
		return fmt.Errorf("parse money %q: %w", s, err)
	}
	m.Cents = cents
	return nil
}
