package ocr

import (
	"errors"
	"regexp"
	"strings"

	"scontrino/internal/core"
)

// ErrNoItems is returned when the model's output contains no parseable
// item lines.
var ErrNoItems = errors.New("no items extracted from receipt")

var (
	itemLineRe     = regexp.MustCompile(`- (.*?): \$([\d.,]+)`)
	categoryLineRe = regexp.MustCompile(`- (.*?): ([\w\s]+)`)
	uncertainRe    = regexp.MustCompile(`\s*\(uncertain\)\s*$`)
)

// parseItemLines pulls "- name: $price" lines out of the extraction
// response. Prices that fail to parse become 0 rather than dropping the
// item; the review screen lets the user fix them.
func parseItemLines(text string) ([]core.ScannedItem, error) {
	matches := itemLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, ErrNoItems
	}

	items := make([]core.ScannedItem, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(uncertainRe.ReplaceAllString(m[1], ""))
		if name == "" {
			continue
		}
		items = append(items, core.ScannedItem{
			Name:  name,
			Price: core.Money{Cents: core.CoercePriceToCents(m[2])},
		})
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}

// parseCategoryLines reads "- name: Category" lines into a name keyed
// map.
func parseCategoryLines(text string) map[string]string {
	out := make(map[string]string)
	for _, m := range categoryLineRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		cat := strings.TrimSpace(m[2])
		if name != "" && cat != "" {
			out[name] = cat
		}
	}
	return out
}

// applyCategories copies category labels onto the items by name, falling
// back to Uncategorized for items the model skipped.
func applyCategories(items []core.ScannedItem, categories map[string]string) {
	for i := range items {
		if cat, ok := categories[items[i].Name]; ok {
			items[i].Category = cat
		} else {
			items[i].Category = "Uncategorized"
		}
	}
}
