package aggregate

import (
	"reflect"
	"testing"
	"time"

	"cashflow/internal/core"
)

func loss(date string, amount float64) core.Expense {
	return core.Expense{Date: date, Details: &core.Details{Type: "loss", Amount: amount}}
}

func TestDailySpendingSingleExpense(t *testing.T) {
	buckets := []core.Bucket{{
		Name:     "Food",
		Expenses: []core.Expense{loss("2024-05-01T10:00:00Z", 50)},
	}}

	rows := DailySpendingByBucket(buckets)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.ISODate != "2024-05-01" || r.Type != "loss" || r.Spending != 50 {
		t.Errorf("unexpected row %+v", r)
	}
	want := []BucketTotal{{Name: "Food", Total: 50}}
	if !reflect.DeepEqual(r.BudgetTotals, want) {
		t.Errorf("BudgetTotals = %+v, want %+v", r.BudgetTotals, want)
	}
	if len(r.Expenses) != 1 || r.Expenses[0].Bucket != "Food" {
		t.Errorf("expected labelled expense, got %+v", r.Expenses)
	}
	if buckets[0].Expenses[0].Bucket != "" {
		t.Error("input expense was mutated")
	}
}

func TestDailySpendingMergesBucketsOnSameDay(t *testing.T) {
	buckets := []core.Bucket{
		{Name: "Food", Expenses: []core.Expense{loss("2024-05-01", 20)}},
		{Name: "Rent", Expenses: []core.Expense{loss("2024-05-01T08:00:00Z", 700.5)}},
	}

	rows := DailySpendingByBucket(buckets)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Spending != 720.5 {
		t.Errorf("Spending = %v, want 720.5", r.Spending)
	}
	want := []BucketTotal{{Name: "Rent", Total: 700.5}, {Name: "Food", Total: 20}}
	if !reflect.DeepEqual(r.BudgetTotals, want) {
		t.Errorf("BudgetTotals = %+v, want %+v", r.BudgetTotals, want)
	}
}

func TestDailySpendingSkipsOtherTypesAndZeroAmounts(t *testing.T) {
	buckets := []core.Bucket{{
		Name: "Misc",
		Expenses: []core.Expense{
			{Date: "2024-05-02", Type: "refund", Amount: 10},
			{Date: "2024-05-02", Type: "transfer", Amount: 10},
			{Date: "2024-05-02", Type: "loss", Amount: 0},
		},
	}}
	if rows := DailySpendingByBucket(buckets); len(rows) != 0 {
		t.Errorf("expected no rows, got %+v", rows)
	}
}

func TestDailySpendingOrdering(t *testing.T) {
	buckets := []core.Bucket{
		{Name: "", Expenses: []core.Expense{
			{Date: "2024-05-03", Type: "GAIN", Amount: -15},
			loss("2024-05-01", 1.005),
		}},
		{Name: "Food", Expenses: []core.Expense{loss("2024-05-02", 3)}},
	}

	rows := DailySpendingByBucket(buckets)
	var got []string
	for _, r := range rows {
		got = append(got, r.ISODate+"|"+r.Type)
	}
	want := []string{"2024-05-01|loss", "2024-05-02|loss", "2024-05-03|gain"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if rows[2].Spending != 15 {
		t.Errorf("gain spending = %v, want absolute 15", rows[2].Spending)
	}
	if rows[0].BudgetTotals[0].Name != UnknownBucket {
		t.Errorf("unnamed bucket labelled %q", rows[0].BudgetTotals[0].Name)
	}
}

func TestPeriodMonthSlotCount(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	expenses := []core.Expense{loss("2024-06-03", 10)}

	tests := []struct {
		name   string
		offset int
		slots  int
	}{
		{"june", 0, 30},
		{"july", 1, 31},
		{"february leap year", -4, 29},
		{"february", -16, 28},
		{"december previous year", -6, 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Period(expenses, core.Month, tt.offset, now)
			if len(p.ChartData) != tt.slots {
				t.Errorf("got %d slots, want %d", len(p.ChartData), tt.slots)
			}
		})
	}
}

func TestPeriodMonthBuckets(t *testing.T) {
	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	expenses := []core.Expense{
		loss("2024-06-03", 10),
		loss("2024-06-03T18:30:00Z", 5.25),
		{Date: "2024-06-30", Type: "gain", Amount: 100},
		loss("2024-05-31", 99),
		loss("not a date", 1),
	}

	p := Period(expenses, core.Month, 0, now)
	if p.XKey != "day" {
		t.Errorf("XKey = %q", p.XKey)
	}
	if got := p.ChartData[2]; got.Amount != 15.25 || len(got.Expenses) != 2 || got.Label != "03" || got.ISODate != "2024-06-03" {
		t.Errorf("day 3 = %+v", got)
	}
	if got := p.ChartData[29].Amount; got != 100 {
		t.Errorf("day 30 amount = %v", got)
	}
	for i, r := range p.ChartData {
		if i != 2 && i != 29 && r.Amount != 0 {
			t.Errorf("slot %d should be empty, got %v", i, r.Amount)
		}
	}
	if len(p.CardData) != 2 || p.CardData[0].Label != "30" || p.CardData[1].Label != "03" {
		t.Errorf("CardData = %+v", p.CardData)
	}
	// Totals cover the whole input, including rows outside the month.
	want := core.Totals{Inflow: 100, Outflow: 115.25, Total: 215.25}
	if p.Totals != want {
		t.Errorf("Totals = %+v, want %+v", p.Totals, want)
	}
}

func TestPeriodWeekSlots(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC) // Wednesday
	expenses := []core.Expense{
		loss("2024-05-01", 4),
		loss("2024-05-05", 6),
		loss("2024-04-29", 1),
	}

	p := Period(expenses, core.Week, 0, now)
	if len(p.ChartData) != 7 {
		t.Fatalf("got %d slots", len(p.ChartData))
	}
	labels := make([]string, 0, 7)
	for _, r := range p.ChartData {
		labels = append(labels, r.Label)
	}
	if !reflect.DeepEqual(labels, []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}) {
		t.Errorf("labels = %v", labels)
	}
	if p.ChartData[0].Amount != 1 || p.ChartData[2].Amount != 4 || p.ChartData[6].Amount != 6 {
		t.Errorf("unexpected amounts %+v", p.ChartData)
	}
	if p.ChartData[0].ISODate != "2024-04-29" {
		t.Errorf("Monday ISODate = %q", p.ChartData[0].ISODate)
	}

	prev := Period(expenses, core.Week, -1, now)
	if prev.ChartData[0].ISODate != "2024-04-22" {
		t.Errorf("previous week Monday = %q", prev.ChartData[0].ISODate)
	}
}

func TestPeriodWeekDropsOtherWeeks(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC) // Wednesday
	expenses := []core.Expense{
		loss("2024-05-01", 4),
		loss("2024-05-08", 50), // next Wednesday
		loss("2024-04-28", 7),  // previous Sunday
		loss("2024-05-06", 9),  // next Monday
	}

	p := Period(expenses, core.Week, 0, now)
	if p.ChartData[2].Amount != 4 {
		t.Errorf("Wed amount = %v, want 4", p.ChartData[2].Amount)
	}
	if p.ChartData[6].Amount != 0 || p.ChartData[0].Amount != 0 {
		t.Errorf("expenses from adjacent weeks leaked in: %+v", p.ChartData)
	}
	if len(p.CardData) != 1 || p.CardData[0].Label != "Wed" {
		t.Errorf("card data = %+v", p.CardData)
	}

	prev := Period(expenses, core.Week, -1, now)
	if prev.ChartData[6].Amount != 7 || prev.ChartData[2].Amount != 0 {
		t.Errorf("previous week = %+v", prev.ChartData)
	}
}

func TestPeriodYearSlots(t *testing.T) {
	now := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	expenses := []core.Expense{
		loss("2023-01-15", 10),
		loss("2023-12-31", 20),
		loss("2024-02-01", 99),
	}

	p := Period(expenses, core.Year, -1, now)
	if p.XKey != "month" {
		t.Errorf("XKey = %q", p.XKey)
	}
	if len(p.ChartData) != 12 {
		t.Fatalf("got %d slots", len(p.ChartData))
	}
	if p.ChartData[0].Amount != 10 || p.ChartData[11].Amount != 20 || p.ChartData[1].Amount != 0 {
		t.Errorf("unexpected amounts %+v", p.ChartData)
	}
	if p.ChartData[11].Label != "Dec" || p.ChartData[11].ISODate != "2023-12" {
		t.Errorf("december slot = %+v", p.ChartData[11])
	}
}

func TestPeriodEmptyInput(t *testing.T) {
	now := time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)
	for _, r := range core.Ranges() {
		p := Period(nil, r, 0, now)
		if len(p.ChartData) != 0 || len(p.CardData) != 0 {
			t.Errorf("%s: expected empty chart, got %d rows", r, len(p.ChartData))
		}
		if p.Totals != (core.Totals{}) {
			t.Errorf("%s: expected zero totals, got %+v", r, p.Totals)
		}
		if p.ChartData == nil || p.CardData == nil {
			t.Errorf("%s: nil slices would encode as null", r)
		}
	}
}

func TestFilter(t *testing.T) {
	expenses := []core.Expense{
		{Name: "Coffee", Category: "Food", Amount: 3.5, Date: "2024-05-01"},
		{Name: "Train", Comments: "to Milan", PaymentMethod: "Card", Amount: 20, Date: "2024-05-02"},
		{Details: &core.Details{Name: "Groceries", Category: "Food", Amount: 42}, Date: "2024-06-10"},
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"   ", 3},
		{"food", 2},
		{"MILAN", 1},
		{"card", 1},
		{"3.5", 1},
		{"2024-06", 1},
		{"groceries", 1},
		{"nothing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			once := Filter(expenses, tt.query)
			if len(once) != tt.want {
				t.Errorf("Filter(%q) = %d results, want %d", tt.query, len(once), tt.want)
			}
			twice := Filter(once, tt.query)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("Filter is not idempotent for %q", tt.query)
			}
		})
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, time.May, 1, 15, 0, 0, 0, time.UTC)
	tests := []struct {
		rng        core.Range
		offset     int
		start, end string
	}{
		{core.Week, 0, "2024-04-29", "2024-05-06"},
		{core.Week, 1, "2024-05-06", "2024-05-13"},
		{core.Month, 0, "2024-05-01", "2024-06-01"},
		{core.Month, -5, "2023-12-01", "2024-01-01"},
		{core.Year, -1, "2023-01-01", "2024-01-01"},
	}
	for _, tt := range tests {
		start, end := Window(tt.rng, tt.offset, now)
		if got := start.Format(time.DateOnly); got != tt.start {
			t.Errorf("%s/%d start = %s, want %s", tt.rng, tt.offset, got, tt.start)
		}
		if got := end.Format(time.DateOnly); got != tt.end {
			t.Errorf("%s/%d end = %s, want %s", tt.rng, tt.offset, got, tt.end)
		}
	}
}
