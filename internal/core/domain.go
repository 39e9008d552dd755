package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	Week  Range = "week"
	Month Range = "month"
	Year  Range = "year"
)

const (
	Inflow  FlowType = "inflow"
	Outflow FlowType = "outflow"

	// FlowAll is the tab value meaning "no flow filter".
	FlowAll FlowType = "all"
)

const (
	TypeLoss    = "loss"
	TypeGain    = "gain"
	TypeInflow  = "inflow"
	TypeOutflow = "outflow"
)

type (
	// Range is the period granularity of a cashflow view.
	Range string

	// FlowType restricts a view to incoming or outgoing transactions.
	FlowType string

	// Details is the nested shape some backend endpoints use for expense attributes.
	Details struct {
		Name          string  `json:"name,omitempty"`
		Type          string  `json:"type,omitempty"`
		Amount        float64 `json:"amount,omitempty"`
		Category      string  `json:"category,omitempty"`
		PaymentMethod string  `json:"paymentMethod,omitempty"`
		Comments      string  `json:"comments,omitempty"`
	}

	Expense struct {
		ID            string   `json:"id,omitempty"`
		Name          string   `json:"name,omitempty"`
		Comments      string   `json:"comments,omitempty"`
		Date          string   `json:"date"`
		Type          string   `json:"type,omitempty"`
		Amount        float64  `json:"amount,omitempty"`
		Category      string   `json:"category,omitempty"`
		PaymentMethod string   `json:"paymentMethod,omitempty"`
		Bucket        string   `json:"bucket,omitempty"`
		Details       *Details `json:"details,omitempty"`
	}
)

var (
	ErrInvalidRange     = errors.New("invalid range")
	ErrInvalidFlowType  = errors.New("invalid flow type")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrEmptyName        = errors.New("empty name")
	ErrNameTooLong      = errors.New("name too long (max 200 characters)")
	dateLayouts         = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}
	validExpenseTypes   = []string{TypeLoss, TypeGain, TypeInflow, TypeOutflow}
	orderedRanges       = []Range{Week, Month, Year}
	orderedFlowTabs     = []FlowType{FlowAll, Inflow, Outflow}
)

// Ranges returns every valid range, shortest first.
func Ranges() []Range {
	return append([]Range(nil), orderedRanges...)
}

func (r Range) Valid() bool {
	switch r {
	case Week, Month, Year:
		return true
	}
	return false
}

func (r Range) String() string { return string(r) }

// ParseRange validates s as a range. Empty input is an error too.
func ParseRange(s string) (Range, error) {
	r := Range(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	return r, nil
}

// ValidFlowTab reports whether f is one of all, inflow, outflow.
func (f FlowType) ValidFlowTab() bool {
	switch f {
	case FlowAll, Inflow, Outflow:
		return true
	}
	return false
}

// FlowTabs returns the tab values in display order.
func FlowTabs() []FlowType {
	return append([]FlowType(nil), orderedFlowTabs...)
}

// ParseFlowTab validates s against the flow tab set.
func ParseFlowTab(s string) (FlowType, error) {
	f := FlowType(strings.ToLower(strings.TrimSpace(s)))
	if !f.ValidFlowTab() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFlowType, s)
	}
	return f, nil
}

// IsInflow reports whether a lower-cased transaction type counts as money coming in.
func IsInflow(txType string) bool {
	return txType == TypeInflow || txType == TypeGain
}

// ResolvedType returns the lower-cased transaction type, preferring the top-level field.
func (e Expense) ResolvedType() string {
	t := e.Type
	if t == "" && e.Details != nil {
		t = e.Details.Type
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// ResolvedAmount returns the absolute amount, preferring the top-level field.
func (e Expense) ResolvedAmount() float64 {
	a := e.Amount
	if a == 0 && e.Details != nil {
		a = e.Details.Amount
	}
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	return math.Abs(a)
}

func (e Expense) ResolvedName() string {
	if e.Name == "" && e.Details != nil {
		return e.Details.Name
	}
	return e.Name
}

func (e Expense) ResolvedCategory() string {
	if e.Category == "" && e.Details != nil {
		return e.Details.Category
	}
	return e.Category
}

func (e Expense) ResolvedPaymentMethod() string {
	if e.PaymentMethod == "" && e.Details != nil {
		return e.Details.PaymentMethod
	}
	return e.PaymentMethod
}

func (e Expense) ResolvedComments() string {
	if e.Comments == "" && e.Details != nil {
		return e.Details.Comments
	}
	return e.Comments
}

// ISODay truncates the raw date to YYYY-MM-DD.
func (e Expense) ISODay() string {
	d := strings.TrimSpace(e.Date)
	if i := strings.IndexByte(d, 'T'); i >= 0 {
		d = d[:i]
	}
	return d
}

// ParsedDate parses the raw date. Date-only values are interpreted in loc.
func (e Expense) ParsedDate(loc *time.Location) (time.Time, bool) {
	return ParseDate(e.Date, loc)
}

// ParseDate accepts RFC3339, YYYY-MM-DDTHH:MM:SS and YYYY-MM-DD.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Validate checks an expense before it is written to a backend.
func (e Expense) Validate() error {
	name := strings.TrimSpace(e.ResolvedName())
	if name == "" {
		return ErrEmptyName
	}
	if len(name) > 200 {
		return ErrNameTooLong
	}
	if _, ok := e.ParsedDate(time.UTC); !ok {
		return ErrInvalidDate
	}
	if e.ResolvedAmount() <= 0 {
		return ErrInvalidAmount
	}
	t := e.ResolvedType()
	for _, v := range validExpenseTypes {
		if t == v {
			return nil
		}
	}
	return ErrInvalidType
}
