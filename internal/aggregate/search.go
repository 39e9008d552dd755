package aggregate

import (
	"strconv"
	"strings"

	"cashflow/internal/core"
)

// SearchBlob is the lower-cased text an expense is matched against.
func SearchBlob(e core.Expense) string {
	parts := []string{
		e.ResolvedName(),
		e.ResolvedComments(),
		strconv.FormatFloat(e.ResolvedAmount(), 'f', -1, 64),
		e.ResolvedCategory(),
		e.ResolvedPaymentMethod(),
		e.Date,
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Filter keeps the expenses whose search blob contains query, ignoring case.
// A blank query keeps everything. The input slice is not modified.
func Filter(expenses []core.Expense, query string) []core.Expense {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if q == "" || strings.Contains(SearchBlob(e), q) {
			out = append(out, e)
		}
	}
	return out
}
