// Package upstream defines the ports the dashboard reads expenses through and
// the helpers shared by the local backends that implement them.
package upstream

import (
	"context"
	"errors"
	"fmt"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
)

var (
	// ErrReadOnly is returned by backends that cannot write.
	ErrReadOnly = errors.New("backend is read-only")
	// ErrNotFound is returned when an expense or bulk job does not exist.
	ErrNotFound = errors.New("not found")
)

// APIError carries the human-readable message extracted from a failed request.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// ListQuery filters a raw expense listing. Zero values mean no filter.
type ListQuery struct {
	TargetID  string `url:"targetId,omitempty"`
	StartDate string `url:"startDate,omitempty"`
	EndDate   string `url:"endDate,omitempty"`
	Category  string `url:"category,omitempty"`
	Type      string `url:"type,omitempty"`
}

// Ports for outbound adapters.
type (
	ExpenseLister interface {
		ListExpenses(ctx context.Context, q ListQuery) ([]core.Expense, error)
	}

	// CashflowReader returns the expenses of one cashflow view. A backend may
	// also return the chart already aggregated.
	CashflowReader interface {
		ReadCashflow(ctx context.Context, d descriptor.CashflowDescriptor) (core.CashflowResponse, error)
	}

	// CategoryFlowReader returns expenses grouped into named buckets.
	CategoryFlowReader interface {
		ReadCategoryFlow(ctx context.Context, d descriptor.CategoryFlowDescriptor) (core.CategoryFlowResponse, error)
	}

	ExpenseWriter interface {
		AddExpense(ctx context.Context, targetID string, e core.Expense) (core.Expense, error)
		EditExpense(ctx context.Context, targetID, id string, e core.Expense) (core.Expense, error)
		DeleteExpense(ctx context.Context, targetID, id string) error
		// AddMultiple stores every expense and returns how many were written.
		AddMultiple(ctx context.Context, targetID string, es []core.Expense) (int, error)
	}

	// BulkTracker runs bulk imports in the background and reports progress.
	BulkTracker interface {
		AddMultipleTracked(ctx context.Context, targetID string, es []core.Expense) (jobID string, err error)
		BulkProgress(ctx context.Context, jobID string) (core.JobProgress, error)
	}

	// Backend is everything the dashboard needs from a data source.
	Backend interface {
		ExpenseLister
		CashflowReader
		CategoryFlowReader
		ExpenseWriter
		BulkTracker
	}
)
