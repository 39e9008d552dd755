// Package aggregate turns flat expense lists into chart rows when the backend
// does not return them pre-aggregated.
package aggregate

import (
	"fmt"
	"time"

	"cashflow/internal/core"
)

var (
	weekdayLabels = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	monthLabels   = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

// Period buckets expenses into the slots of rng, shifted by offset periods
// relative to now. Dates without a zone are read in now's location.
//
// Each view drops expenses outside its target period before bucketing.
// Totals are computed over every input expense regardless of bucketing.
func Period(expenses []core.Expense, rng core.Range, offset int, now time.Time) core.DashboardPayload {
	payload := core.DashboardPayload{
		ChartData: []core.ChartRow{},
		CardData:  []core.ChartRow{},
		XKey:      "day",
	}
	if rng == core.Year {
		payload.XKey = "month"
	}
	if len(expenses) == 0 {
		return payload
	}

	loc := now.Location()
	var rows []core.ChartRow
	switch rng {
	case core.Week:
		rows = weekSlots(expenses, offset, now, loc)
	case core.Year:
		rows = yearSlots(expenses, offset, now, loc)
	default:
		rows = monthSlots(expenses, offset, now, loc)
	}
	for i := range rows {
		rows[i].Amount = core.Round2(rows[i].Amount)
	}

	payload.ChartData = rows
	payload.CardData = cards(rows)
	payload.Totals = Totals(expenses)
	return payload
}

// Totals sums inflow (inflow and gain) and outflow (everything else).
func Totals(expenses []core.Expense) core.Totals {
	var in, out []float64
	for _, e := range expenses {
		if core.IsInflow(e.ResolvedType()) {
			in = append(in, e.ResolvedAmount())
		} else {
			out = append(out, e.ResolvedAmount())
		}
	}
	t := core.Totals{
		Inflow:  core.Round2(core.Sum(in...)),
		Outflow: core.Round2(core.Sum(out...)),
	}
	t.Total = core.Round2(core.Sum(t.Inflow, t.Outflow))
	return t
}

func weekSlots(expenses []core.Expense, offset int, now time.Time, loc *time.Location) []core.ChartRow {
	monday, next := Window(core.Week, offset, now)

	rows := make([]core.ChartRow, len(weekdayLabels))
	for i, label := range weekdayLabels {
		rows[i] = core.ChartRow{
			Label:    label,
			ISODate:  monday.AddDate(0, 0, i).Format(time.DateOnly),
			Expenses: []core.Expense{},
		}
	}
	for _, e := range expenses {
		t, ok := e.ParsedDate(loc)
		if !ok {
			continue
		}
		t = t.In(loc)
		if t.Before(monday) || !t.Before(next) {
			continue
		}
		add(&rows[weekdayIndex(t)], e)
	}
	return rows
}

func monthSlots(expenses []core.Expense, offset int, now time.Time, loc *time.Location) []core.ChartRow {
	first := time.Date(now.Year(), now.Month()+time.Month(offset), 1, 0, 0, 0, 0, loc)
	days := DaysIn(first.Year(), first.Month())

	rows := make([]core.ChartRow, days)
	for i := range rows {
		day := first.AddDate(0, 0, i)
		rows[i] = core.ChartRow{
			Label:    fmt.Sprintf("%02d", i+1),
			ISODate:  day.Format(time.DateOnly),
			Expenses: []core.Expense{},
		}
	}
	for _, e := range expenses {
		t, ok := e.ParsedDate(loc)
		if !ok {
			continue
		}
		t = t.In(loc)
		if t.Year() != first.Year() || t.Month() != first.Month() {
			continue
		}
		add(&rows[t.Day()-1], e)
	}
	return rows
}

func yearSlots(expenses []core.Expense, offset int, now time.Time, loc *time.Location) []core.ChartRow {
	year := now.Year() + offset

	rows := make([]core.ChartRow, len(monthLabels))
	for i, label := range monthLabels {
		rows[i] = core.ChartRow{
			Label:    label,
			ISODate:  fmt.Sprintf("%04d-%02d", year, i+1),
			Expenses: []core.Expense{},
		}
	}
	for _, e := range expenses {
		t, ok := e.ParsedDate(loc)
		if !ok {
			continue
		}
		t = t.In(loc)
		if t.Year() != year {
			continue
		}
		add(&rows[int(t.Month())-1], e)
	}
	return rows
}

func add(row *core.ChartRow, e core.Expense) {
	row.Amount = core.Sum(row.Amount, e.ResolvedAmount())
	row.Expenses = append(row.Expenses, e)
}

// cards lists the slots that received expenses, most recent first.
func cards(rows []core.ChartRow) []core.ChartRow {
	out := []core.ChartRow{}
	for i := len(rows) - 1; i >= 0; i-- {
		if len(rows[i].Expenses) > 0 {
			out = append(out, rows[i])
		}
	}
	return out
}

// weekdayIndex maps time.Weekday so that Monday is 0 and Sunday is 6.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Window returns the half-open interval [start, end) covered by rng shifted by
// offset periods from now.
func Window(rng core.Range, offset int, now time.Time) (time.Time, time.Time) {
	loc := now.Location()
	switch rng {
	case core.Week:
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		start := today.AddDate(0, 0, -weekdayIndex(today)+7*offset)
		return start, start.AddDate(0, 0, 7)
	case core.Year:
		start := time.Date(now.Year()+offset, time.January, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(1, 0, 0)
	default:
		start := time.Date(now.Year(), now.Month()+time.Month(offset), 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	}
}
