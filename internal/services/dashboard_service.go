package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cashflow/internal/aggregate"
	"cashflow/internal/amqp"
	"cashflow/internal/cache"
	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/flowcache"
	"cashflow/internal/upstream"
	"cashflow/internal/viewstate"
)

// Publisher announces that cached dashboard data went stale.
type Publisher interface {
	PublishInvalidation(ctx context.Context, reason, targetID string) error
}

// CashflowResult is a chart-ready cashflow view.
type CashflowResult struct {
	Key        descriptor.Key                `json:"key"`
	Cached     bool                          `json:"cached"`
	Descriptor descriptor.CashflowDescriptor `json:"descriptor"`
	Expenses   []core.Expense                `json:"expenses"`
	// Aggregated is true when the backend shipped the chart pre-built.
	Aggregated bool `json:"aggregated"`
	core.DashboardPayload
}

// CategoryFlowResult is a daily-spending-by-bucket view.
type CategoryFlowResult struct {
	Key        descriptor.Key                    `json:"key"`
	Cached     bool                              `json:"cached"`
	Descriptor descriptor.CategoryFlowDescriptor `json:"descriptor"`
	Buckets    []core.Bucket                     `json:"buckets"`
	Rows       []aggregate.DailyRow              `json:"rows"`
}

// DashboardOptions configures a DashboardService.
type DashboardOptions struct {
	Backend   upstream.Backend
	ViewState *viewstate.Store
	Publisher Publisher
	Logger    *slog.Logger

	// Caches default to unbounded ones when nil.
	CashflowCache     cache.Cache[core.CashflowResponse]
	CategoryFlowCache cache.Cache[core.CategoryFlowResponse]

	Now func() time.Time
}

// DashboardService turns loosely typed view parameters into cached,
// aggregated dashboard payloads and routes writes to the backend.
type DashboardService struct {
	backend   upstream.Backend
	views     *viewstate.Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	cashflow     *flowcache.Store[core.CashflowResponse]
	categoryFlow *flowcache.Store[core.CategoryFlowResponse]
}

func NewDashboardService(opts DashboardOptions) *DashboardService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	views := opts.ViewState
	if views == nil {
		views = viewstate.NewStore(viewstate.NewMemoryKV(0), logger, "")
	}
	return &DashboardService{
		backend:      opts.Backend,
		views:        views,
		publisher:    opts.Publisher,
		logger:       logger,
		now:          now,
		cashflow:     flowcache.New("cashflow", opts.CashflowCache, logger),
		categoryFlow: flowcache.New("category-flow", opts.CategoryFlowCache, logger),
	}
}

// Cashflow returns the cashflow view for p. The search query filters the raw
// list before client-side aggregation and is not part of the cache key; a
// pre-aggregated backend payload is returned as is.
func (s *DashboardService) Cashflow(ctx context.Context, p descriptor.Params, search string, opts flowcache.Options) (CashflowResult, error) {
	d, key := descriptor.CashflowKey(p)

	res, err := s.cashflow.Fetch(ctx, key, opts, func(ctx context.Context) (core.CashflowResponse, error) {
		return s.backend.ReadCashflow(ctx, d)
	})
	if err != nil && !errors.Is(err, flowcache.ErrSuperseded) {
		return CashflowResult{Key: key, Descriptor: d}, err
	}

	out := CashflowResult{
		Key:        key,
		Cached:     res.Cached,
		Descriptor: d,
		Expenses:   aggregate.Filter(res.Payload.Expenses, search),
	}
	if res.Payload.DashboardPayload != nil {
		out.Aggregated = true
		out.DashboardPayload = *res.Payload.DashboardPayload
	} else {
		out.DashboardPayload = aggregate.Period(out.Expenses, d.RangeOrDefault(), d.Offset, s.now())
	}
	return out, err
}

// CategoryFlow returns daily spending grouped by bucket for p.
func (s *DashboardService) CategoryFlow(ctx context.Context, p descriptor.Params, opts flowcache.Options) (CategoryFlowResult, error) {
	d, key := descriptor.CategoryFlowKey(p)

	res, err := s.categoryFlow.Fetch(ctx, key, opts, func(ctx context.Context) (core.CategoryFlowResponse, error) {
		return s.backend.ReadCategoryFlow(ctx, d)
	})
	if err != nil && !errors.Is(err, flowcache.ErrSuperseded) {
		return CategoryFlowResult{Key: key, Descriptor: d}, err
	}

	buckets := res.Payload.Buckets
	if buckets == nil {
		buckets = []core.Bucket{}
	}
	return CategoryFlowResult{
		Key:        key,
		Cached:     res.Cached,
		Descriptor: d,
		Buckets:    buckets,
		Rows:       aggregate.DailySpendingByBucket(buckets),
	}, err
}

// ListExpenses passes the query straight to the backend.
func (s *DashboardService) ListExpenses(ctx context.Context, q upstream.ListQuery) ([]core.Expense, error) {
	expenses, err := s.backend.ListExpenses(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	if expenses == nil {
		expenses = []core.Expense{}
	}
	return expenses, nil
}

func (s *DashboardService) AddExpense(ctx context.Context, targetID string, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	created, err := s.backend.AddExpense(ctx, targetID, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("add expense: %w", err)
	}
	s.invalidate(ctx, amqp.ReasonExpenseAdded, targetID)
	return created, nil
}

func (s *DashboardService) EditExpense(ctx context.Context, targetID, id string, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	updated, err := s.backend.EditExpense(ctx, targetID, id, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("edit expense %s: %w", id, err)
	}
	s.invalidate(ctx, amqp.ReasonExpenseEdited, targetID)
	return updated, nil
}

func (s *DashboardService) DeleteExpense(ctx context.Context, targetID, id string) error {
	if err := s.backend.DeleteExpense(ctx, targetID, id); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	s.invalidate(ctx, amqp.ReasonExpenseDeleted, targetID)
	return nil
}

// AddMultiple validates every expense up front and writes them in one call.
func (s *DashboardService) AddMultiple(ctx context.Context, targetID string, es []core.Expense) (int, error) {
	if err := validateAll(es); err != nil {
		return 0, err
	}
	n, err := s.backend.AddMultiple(ctx, targetID, es)
	if err != nil {
		return n, fmt.Errorf("add multiple: %w", err)
	}
	s.invalidate(ctx, amqp.ReasonBulkImport, targetID)
	return n, nil
}

// AddMultipleTracked starts a background import. Caches are dropped right away;
// clients refetch once the job reports completion.
func (s *DashboardService) AddMultipleTracked(ctx context.Context, targetID string, es []core.Expense) (string, error) {
	if err := validateAll(es); err != nil {
		return "", err
	}
	jobID, err := s.backend.AddMultipleTracked(ctx, targetID, es)
	if err != nil {
		return "", fmt.Errorf("start tracked import: %w", err)
	}
	s.invalidate(ctx, amqp.ReasonBulkImport, targetID)
	return jobID, nil
}

// BulkProgress reports a tracked import. Finished jobs drop the caches once more
// so rows written after the job started become visible.
func (s *DashboardService) BulkProgress(ctx context.Context, jobID string) (core.JobProgress, error) {
	p, err := s.backend.BulkProgress(ctx, jobID)
	if err != nil {
		return core.JobProgress{}, fmt.Errorf("bulk progress %s: %w", jobID, err)
	}
	if p.Done() {
		s.resetCaches()
	}
	return p, nil
}

// ViewState reads the persisted view for an owner looking at target.
func (s *DashboardService) ViewState(ctx context.Context, ownerID, targetID string) viewstate.State {
	return s.views.Read(ctx, viewstate.StorageKey(ownerID, targetID))
}

// SaveViewState persists st and returns what was actually stored.
func (s *DashboardService) SaveViewState(ctx context.Context, ownerID, targetID string, st viewstate.State) viewstate.State {
	return s.views.Persist(ctx, viewstate.StorageKey(ownerID, targetID), st)
}

// HandleInvalidation drops cached views after another instance changed data.
func (s *DashboardService) HandleInvalidation(ctx context.Context, msg *amqp.CacheInvalidationMessage) error {
	s.logger.InfoContext(ctx, "Dropping caches after remote change",
		"reason", msg.Reason,
		"target_id", msg.TargetID,
		"source", msg.Source)
	s.resetCaches()
	return nil
}

// CacheSizes reports entry counts per store.
func (s *DashboardService) CacheSizes() map[string]int {
	return map[string]int{
		"cashflow":      s.cashflow.Len(),
		"category_flow": s.categoryFlow.Len(),
	}
}

// Ping checks the backend when it supports it.
func (s *DashboardService) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *DashboardService) invalidate(ctx context.Context, reason, targetID string) {
	s.resetCaches()
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishInvalidation(ctx, reason, targetID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish cache invalidation",
			"reason", reason,
			"error", err)
	}
}

func (s *DashboardService) resetCaches() {
	s.cashflow.Reset()
	s.categoryFlow.Reset()
}

func validateAll(es []core.Expense) error {
	if len(es) == 0 {
		return ErrNoExpenses
	}
	for i, e := range es {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("expense %d: %w", i, err)
		}
	}
	return nil
}

var ErrNoExpenses = errors.New("no expenses to add")
