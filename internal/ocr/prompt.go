package ocr

import "strings"

const extractPrompt = `Please extract all items from this receipt image.
For each item, provide the name and price.
Format the output as a list with each item on a new line in this format:
- Item name: $price
If you can't read some items clearly, make your best guess and mark it with (uncertain).`

// buildCategorizePrompt asks for one "- Item name: Category" line per
// item, using the caller's category vocabulary.
func buildCategorizePrompt(names, categories []string) string {
	var b strings.Builder
	b.WriteString("Please categorize these items into the following budget categories: ")
	b.WriteString(strings.Join(categories, ", "))
	b.WriteString(".\nFor each item, provide a category.\n")
	b.WriteString("Format the output as a list with each item on a new line in this format:\n")
	b.WriteString("- Item name: Category\n\nHere are the items:\n")
	b.WriteString(strings.Join(names, "\n"))
	return b.String()
}
