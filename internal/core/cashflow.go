package core

// Totals summarises money in and out over a set of transactions.
type Totals struct {
	Inflow  float64 `json:"inflow"`
	Outflow float64 `json:"outflow"`
	Total   float64 `json:"total"`
}

// ChartRow is one time slot of a cashflow chart. Label is a weekday name,
// a zero-padded day of month or a month name depending on the range.
type ChartRow struct {
	Label    string    `json:"label"`
	ISODate  string    `json:"isoDate,omitempty"`
	Amount   float64   `json:"amount"`
	Expenses []Expense `json:"expenses"`
}

// DashboardPayload is the chart-ready shape of a cashflow view. The backend may
// return it pre-aggregated; otherwise it is computed from the raw expense list.
type DashboardPayload struct {
	ChartData []ChartRow `json:"chartData"`
	CardData  []ChartRow `json:"cardData"`
	Totals    Totals     `json:"totals"`
	XKey      string     `json:"xKey"`
}

// CashflowResponse is what a backend returns for a cashflow query.
type CashflowResponse struct {
	Expenses         []Expense         `json:"expenses"`
	DashboardPayload *DashboardPayload `json:"dashboardPayload,omitempty"`
}

// Bucket is a named grouping (category or payment method) with its own expenses.
type Bucket struct {
	Name     string    `json:"name"`
	Expenses []Expense `json:"expenses"`
}

// CategoryFlowResponse is what a backend returns for a category-flow query.
type CategoryFlowResponse struct {
	Buckets []Bucket `json:"buckets"`
}

// JobProgress reports the state of a tracked bulk import.
type JobProgress struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Done reports whether the job reached a terminal state.
func (p JobProgress) Done() bool {
	return p.Status == JobCompleted || p.Status == JobFailed
}
