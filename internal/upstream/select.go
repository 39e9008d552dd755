package upstream

import (
	"slices"
	"strings"
	"time"

	"cashflow/internal/aggregate"
	"cashflow/internal/core"
	"cashflow/internal/descriptor"
)

// Deref returns *p or "" for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// MatchesFlow reports whether e belongs to the inflow or outflow side. Any
// other flow value matches everything.
func MatchesFlow(e core.Expense, flow string) bool {
	switch core.FlowType(strings.ToLower(flow)) {
	case core.Inflow:
		return core.IsInflow(e.ResolvedType())
	case core.Outflow:
		return !core.IsInflow(e.ResolvedType())
	}
	return true
}

// SelectCashflow picks the expenses of a cashflow view out of a flat list.
// Local backends use it; they never pre-aggregate.
func SelectCashflow(expenses []core.Expense, d descriptor.CashflowDescriptor, now time.Time) []core.Expense {
	start, end := aggregate.Window(d.RangeOrDefault(), d.Offset, now)
	flow := Deref(d.FlowType)

	out := []core.Expense{}
	for _, e := range expenses {
		if !inWindow(e, start, end) || !MatchesFlow(e, flow) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GroupCategoryFlow filters expenses for a category-flow query and groups them
// by category, or by payment method when d.GroupBy is set. An explicit
// startDate/endDate pair (inclusive) overrides the range window.
func GroupCategoryFlow(expenses []core.Expense, d descriptor.CategoryFlowDescriptor, now time.Time) []core.Bucket {
	start, end := aggregate.Window(d.RangeType, d.Offset, now)
	if s, ok := core.ParseDate(Deref(d.StartDate), now.Location()); ok {
		start = s
	}
	if e, ok := core.ParseDate(Deref(d.EndDate), now.Location()); ok {
		end = e.AddDate(0, 0, 1)
	}
	flow := Deref(d.FlowType)
	txType := strings.ToLower(strings.TrimSpace(Deref(d.Type)))
	category := strings.TrimSpace(Deref(d.Category))

	groups := make(map[string][]core.Expense)
	for _, e := range expenses {
		if !inWindow(e, start, end) || !MatchesFlow(e, flow) {
			continue
		}
		if txType != "" && e.ResolvedType() != txType {
			continue
		}
		if category != "" && !strings.EqualFold(e.ResolvedCategory(), category) {
			continue
		}
		name := e.ResolvedCategory()
		if d.GroupBy {
			name = e.ResolvedPaymentMethod()
		}
		groups[name] = append(groups[name], e)
	}

	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	slices.Sort(names)

	buckets := make([]core.Bucket, 0, len(names))
	for _, n := range names {
		buckets = append(buckets, core.Bucket{Name: n, Expenses: groups[n]})
	}
	return buckets
}

func inWindow(e core.Expense, start, end time.Time) bool {
	t, ok := e.ParsedDate(start.Location())
	if !ok {
		return false
	}
	return !t.Before(start) && t.Before(end)
}
