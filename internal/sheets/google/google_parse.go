package google

import (
	"fmt"
	"strings"

	gsheet "google.golang.org/api/sheets/v4"
)

// findRow returns the 1-based row whose first cell equals id, or 0.
func findRow(values [][]any, id string) int {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(fmt.Sprint(row[0])), id) {
			return i + 1
		}
	}
	return 0
}

func sheetIDByTitle(props []*gsheet.SheetProperties, title string) (int64, bool) {
	for _, p := range props {
		if p != nil && strings.EqualFold(strings.TrimSpace(p.Title), strings.TrimSpace(title)) {
			return p.SheetId, true
		}
	}
	return 0, false
}

// lastColumn returns the letter of the n-th column (1 = A). Up to 26 columns.
func lastColumn(n int) string {
	if n < 1 {
		n = 1
	}
	if n > 26 {
		n = 26
	}
	return string(rune('A' + n - 1))
}

func rowRef(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:H%d", sheet, row, row)
}

func toAny(cells []string) []any {
	out := make([]any, len(cells))
	for i, v := range cells {
		out[i] = v
	}
	return out
}
