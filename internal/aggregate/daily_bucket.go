package aggregate

import (
	"cmp"
	"slices"
	"strings"

	"cashflow/internal/core"
)

// UnknownBucket labels buckets that arrive without a name.
const UnknownBucket = "Unknown"

type BucketTotal struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

// DailyRow is the spending of one transaction type on one day, split by bucket.
type DailyRow struct {
	ISODate      string         `json:"isoDate"`
	Type         string         `json:"type"`
	Spending     float64        `json:"spending"`
	BudgetTotals []BucketTotal  `json:"budgetTotals"`
	Expenses     []core.Expense `json:"expenses"`
}

type dailyAcc struct {
	day, txType string
	spending    float64
	perBucket   map[string]float64
	expenses    []core.Expense
}

// DailySpendingByBucket flattens buckets into one series keyed by day and type.
// Only loss and gain transactions with a non-zero amount are counted. Returned
// expenses are copies carrying their bucket name; the input is left untouched.
func DailySpendingByBucket(buckets []core.Bucket) []DailyRow {
	acc := make(map[string]*dailyAcc)
	for _, b := range buckets {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			name = UnknownBucket
		}
		for _, e := range b.Expenses {
			txType := e.ResolvedType()
			if txType != core.TypeLoss && txType != core.TypeGain {
				continue
			}
			amount := e.ResolvedAmount()
			if amount == 0 {
				continue
			}
			day := e.ISODay()

			k := day + "|" + txType
			a, ok := acc[k]
			if !ok {
				a = &dailyAcc{day: day, txType: txType, perBucket: make(map[string]float64)}
				acc[k] = a
			}
			a.spending = core.Sum(a.spending, amount)
			a.perBucket[name] = core.Sum(a.perBucket[name], amount)

			labelled := e
			labelled.Bucket = name
			a.expenses = append(a.expenses, labelled)
		}
	}

	rows := make([]DailyRow, 0, len(acc))
	for _, a := range acc {
		totals := make([]BucketTotal, 0, len(a.perBucket))
		for n, t := range a.perBucket {
			totals = append(totals, BucketTotal{Name: n, Total: core.Round2(t)})
		}
		slices.SortFunc(totals, func(x, y BucketTotal) int {
			if c := cmp.Compare(y.Total, x.Total); c != 0 {
				return c
			}
			return cmp.Compare(x.Name, y.Name)
		})
		rows = append(rows, DailyRow{
			ISODate:      a.day,
			Type:         a.txType,
			Spending:     core.Round2(a.spending),
			BudgetTotals: totals,
			Expenses:     a.expenses,
		})
	}
	slices.SortFunc(rows, func(x, y DailyRow) int {
		if c := cmp.Compare(x.ISODate, y.ISODate); c != 0 {
			return c
		}
		return cmp.Compare(x.Type, y.Type)
	})
	return rows
}
