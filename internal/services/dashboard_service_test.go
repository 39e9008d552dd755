package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cashflow/internal/amqp"
	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/flowcache"
	"cashflow/internal/upstream"
	"cashflow/internal/viewstate"
)

type fakeBackend struct {
	mu            sync.Mutex
	expenses      []core.Expense
	payload       *core.DashboardPayload
	buckets       []core.Bucket
	progress      core.JobProgress
	cashflowCalls int
	categoryCalls int
	added         []core.Expense
	readErr       error
	// hold, when set, parks the next cashflow read after it has
	// snapshotted the expenses; held is closed once it is parked.
	hold chan struct{}
	held chan struct{}
}

func (f *fakeBackend) ListExpenses(_ context.Context, _ upstream.ListQuery) ([]core.Expense, error) {
	return f.expenses, nil
}

func (f *fakeBackend) ReadCashflow(_ context.Context, _ descriptor.CashflowDescriptor) (core.CashflowResponse, error) {
	f.mu.Lock()
	f.cashflowCalls++
	expenses, payload, readErr := f.expenses, f.payload, f.readErr
	hold, held := f.hold, f.held
	f.hold = nil
	f.mu.Unlock()
	if hold != nil {
		close(held)
		<-hold
	}
	if readErr != nil {
		return core.CashflowResponse{}, readErr
	}
	return core.CashflowResponse{Expenses: expenses, DashboardPayload: payload}, nil
}

func (f *fakeBackend) ReadCategoryFlow(_ context.Context, _ descriptor.CategoryFlowDescriptor) (core.CategoryFlowResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categoryCalls++
	return core.CategoryFlowResponse{Buckets: f.buckets}, nil
}

func (f *fakeBackend) AddExpense(_ context.Context, _ string, e core.Expense) (core.Expense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = "new"
	f.added = append(f.added, e)
	return e, nil
}

func (f *fakeBackend) EditExpense(_ context.Context, _, id string, e core.Expense) (core.Expense, error) {
	if id == "missing" {
		return core.Expense{}, upstream.ErrNotFound
	}
	e.ID = id
	return e, nil
}

func (f *fakeBackend) DeleteExpense(_ context.Context, _, id string) error {
	if id == "missing" {
		return upstream.ErrNotFound
	}
	return nil
}

func (f *fakeBackend) AddMultiple(_ context.Context, _ string, es []core.Expense) (int, error) {
	return len(es), nil
}

func (f *fakeBackend) AddMultipleTracked(_ context.Context, _ string, _ []core.Expense) (string, error) {
	return "job-1", nil
}

func (f *fakeBackend) BulkProgress(_ context.Context, jobID string) (core.JobProgress, error) {
	p := f.progress
	p.JobID = jobID
	return p, nil
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cashflowCalls, f.categoryCalls
}

type recordingPublisher struct {
	reasons []string
	err     error
}

func (p *recordingPublisher) PublishInvalidation(_ context.Context, reason, _ string) error {
	p.reasons = append(p.reasons, reason)
	return p.err
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(b *fakeBackend, pub Publisher) *DashboardService {
	opts := DashboardOptions{
		Backend: b,
		Now:     func() time.Time { return fixedNow },
	}
	if pub != nil {
		opts.Publisher = pub
	}
	return NewDashboardService(opts)
}

func sampleExpenses() []core.Expense {
	return []core.Expense{
		{ID: "1", Name: "Rent", Date: "2024-03-01", Type: core.TypeLoss, Amount: 900, Category: "Housing"},
		{ID: "2", Name: "Coffee", Date: "2024-03-05", Type: core.TypeLoss, Amount: 3.5, Category: "Food"},
		{ID: "3", Name: "Salary", Date: "2024-03-05", Type: core.TypeGain, Amount: 2500, Category: "Work"},
	}
}

func validExpense() core.Expense {
	return core.Expense{Name: "Lunch", Date: "2024-03-10", Type: core.TypeLoss, Amount: 12.5}
}

func TestDashboardService_CashflowAggregatesLocally(t *testing.T) {
	b := &fakeBackend{expenses: sampleExpenses()}
	s := newTestService(b, nil)
	ctx := context.Background()

	res, err := s.Cashflow(ctx, descriptor.Params{"range": "month"}, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if res.Aggregated || res.Cached {
		t.Errorf("expected fresh local aggregation, got aggregated=%v cached=%v", res.Aggregated, res.Cached)
	}
	if len(res.ChartData) != 31 {
		t.Errorf("expected 31 day slots for March, got %d", len(res.ChartData))
	}
	if res.Totals.Inflow != 2500 || res.Totals.Outflow != 903.5 {
		t.Errorf("unexpected totals %+v", res.Totals)
	}
	if res.XKey != "day" {
		t.Errorf("expected xKey day, got %q", res.XKey)
	}

	again, err := s.Cashflow(ctx, descriptor.Params{"range": "month"}, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if !again.Cached {
		t.Error("second identical request should be served from cache")
	}
	if calls, _ := b.calls(); calls != 1 {
		t.Errorf("backend called %d times, want 1", calls)
	}
}

func TestDashboardService_CashflowSearchDoesNotChangeKey(t *testing.T) {
	b := &fakeBackend{expenses: sampleExpenses()}
	s := newTestService(b, nil)
	ctx := context.Background()

	all, err := s.Cashflow(ctx, descriptor.Params{"offset": "0", "range": "month"}, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	filtered, err := s.Cashflow(ctx, descriptor.Params{"range": "month", "offset": 0}, "coffee", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}

	if all.Key != filtered.Key {
		t.Errorf("keys differ: %s vs %s", all.Key, filtered.Key)
	}
	if !filtered.Cached {
		t.Error("filtered request should reuse the cached response")
	}
	if len(filtered.Expenses) != 1 || filtered.Expenses[0].ID != "2" {
		t.Errorf("unexpected filtered expenses %+v", filtered.Expenses)
	}
	if filtered.Totals.Outflow != 3.5 || filtered.Totals.Inflow != 0 {
		t.Errorf("filtered totals %+v", filtered.Totals)
	}
}

func TestDashboardService_CashflowUsesBackendPayload(t *testing.T) {
	payload := &core.DashboardPayload{
		ChartData: []core.ChartRow{{Label: "Mon", Amount: 10}},
		CardData:  []core.ChartRow{},
		Totals:    core.Totals{Outflow: 10, Total: 10},
		XKey:      "day",
	}
	b := &fakeBackend{expenses: sampleExpenses(), payload: payload}
	s := newTestService(b, nil)

	res, err := s.Cashflow(context.Background(), descriptor.Params{"range": "week"}, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if !res.Aggregated {
		t.Error("expected backend payload to be used")
	}
	if len(res.ChartData) != 1 || res.Totals.Total != 10 {
		t.Errorf("unexpected payload %+v", res.DashboardPayload)
	}
}

func TestDashboardService_CashflowErrorIsNotCached(t *testing.T) {
	b := &fakeBackend{readErr: errors.New("upstream down")}
	s := newTestService(b, nil)
	ctx := context.Background()

	if _, err := s.Cashflow(ctx, descriptor.Params{}, "", flowcache.Options{}); err == nil {
		t.Fatal("expected error")
	}
	b.readErr = nil
	b.expenses = sampleExpenses()
	res, err := s.Cashflow(ctx, descriptor.Params{}, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if res.Cached {
		t.Error("failed fetch must not leave a cache entry")
	}
}

func TestDashboardService_CategoryFlow(t *testing.T) {
	b := &fakeBackend{buckets: []core.Bucket{
		{Name: "Food", Expenses: []core.Expense{
			{Date: "2024-03-05T10:00:00Z", Type: core.TypeLoss, Amount: 4},
			{Date: "2024-03-05", Type: core.TypeLoss, Amount: 6},
		}},
		{Name: "Work", Expenses: []core.Expense{
			{Date: "2024-03-05", Type: core.TypeGain, Amount: 100},
		}},
	}}
	s := newTestService(b, nil)

	res, err := s.CategoryFlow(context.Background(), descriptor.Params{"rangeType": "month"}, flowcache.Options{})
	if err != nil {
		t.Fatalf("CategoryFlow() error = %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected a loss row and a gain row, got %+v", res.Rows)
	}
	if res.Rows[0].Type != core.TypeGain || res.Rows[1].Spending != 10 {
		t.Errorf("unexpected rows %+v", res.Rows)
	}
	if res.Descriptor.RangeType != core.Month {
		t.Errorf("rangeType = %q", res.Descriptor.RangeType)
	}
}

func TestDashboardService_WritesInvalidateAndPublish(t *testing.T) {
	b := &fakeBackend{expenses: sampleExpenses()}
	pub := &recordingPublisher{}
	s := newTestService(b, pub)
	ctx := context.Background()

	if _, err := s.Cashflow(ctx, descriptor.Params{}, "", flowcache.Options{}); err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if _, err := s.CategoryFlow(ctx, descriptor.Params{}, flowcache.Options{}); err != nil {
		t.Fatalf("CategoryFlow() error = %v", err)
	}

	if _, err := s.AddExpense(ctx, "", validExpense()); err != nil {
		t.Fatalf("AddExpense() error = %v", err)
	}
	if sizes := s.CacheSizes(); sizes["cashflow"] != 0 || sizes["category_flow"] != 0 {
		t.Errorf("caches not reset: %v", sizes)
	}

	if _, err := s.EditExpense(ctx, "", "1", validExpense()); err != nil {
		t.Fatalf("EditExpense() error = %v", err)
	}
	if err := s.DeleteExpense(ctx, "", "1"); err != nil {
		t.Fatalf("DeleteExpense() error = %v", err)
	}
	if _, err := s.AddMultiple(ctx, "", []core.Expense{validExpense()}); err != nil {
		t.Fatalf("AddMultiple() error = %v", err)
	}

	want := []string{amqp.ReasonExpenseAdded, amqp.ReasonExpenseEdited, amqp.ReasonExpenseDeleted, amqp.ReasonBulkImport}
	if len(pub.reasons) != len(want) {
		t.Fatalf("published %v, want %v", pub.reasons, want)
	}
	for i := range want {
		if pub.reasons[i] != want[i] {
			t.Errorf("reason %d = %q, want %q", i, pub.reasons[i], want[i])
		}
	}
}

func TestDashboardService_PublishFailureDoesNotFailWrite(t *testing.T) {
	b := &fakeBackend{}
	s := newTestService(b, &recordingPublisher{err: errors.New("broker down")})

	created, err := s.AddExpense(context.Background(), "friend-1", validExpense())
	if err != nil {
		t.Fatalf("AddExpense() error = %v", err)
	}
	if created.ID != "new" {
		t.Errorf("unexpected created expense %+v", created)
	}
}

func TestDashboardService_WriteValidation(t *testing.T) {
	b := &fakeBackend{}
	s := newTestService(b, nil)
	ctx := context.Background()

	bad := validExpense()
	bad.Amount = 0
	if _, err := s.AddExpense(ctx, "", bad); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if len(b.added) != 0 {
		t.Error("invalid expense reached the backend")
	}
	if _, err := s.AddMultiple(ctx, "", nil); !errors.Is(err, ErrNoExpenses) {
		t.Errorf("expected ErrNoExpenses, got %v", err)
	}
	if _, err := s.AddMultipleTracked(ctx, "", []core.Expense{validExpense(), bad}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if err := s.DeleteExpense(ctx, "", "missing"); !errors.Is(err, upstream.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDashboardService_BulkProgressResetsWhenDone(t *testing.T) {
	b := &fakeBackend{expenses: sampleExpenses(), progress: core.JobProgress{Status: core.JobRunning, Total: 2}}
	s := newTestService(b, nil)
	ctx := context.Background()

	if _, err := s.Cashflow(ctx, descriptor.Params{}, "", flowcache.Options{}); err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	p, err := s.BulkProgress(ctx, "job-1")
	if err != nil {
		t.Fatalf("BulkProgress() error = %v", err)
	}
	if p.JobID != "job-1" || p.Done() {
		t.Errorf("unexpected progress %+v", p)
	}
	if s.CacheSizes()["cashflow"] != 1 {
		t.Error("running job should not reset caches")
	}

	b.progress.Status = core.JobCompleted
	if _, err := s.BulkProgress(ctx, "job-1"); err != nil {
		t.Fatalf("BulkProgress() error = %v", err)
	}
	if s.CacheSizes()["cashflow"] != 0 {
		t.Error("completed job should reset caches")
	}
}

func TestDashboardService_HandleInvalidation(t *testing.T) {
	b := &fakeBackend{expenses: sampleExpenses()}
	s := newTestService(b, nil)
	ctx := context.Background()

	if _, err := s.Cashflow(ctx, descriptor.Params{}, "", flowcache.Options{}); err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	msg := amqp.NewCacheInvalidationMessage(amqp.ReasonExpenseAdded, "", "peer")
	if err := s.HandleInvalidation(ctx, msg); err != nil {
		t.Fatalf("HandleInvalidation() error = %v", err)
	}
	res, err := s.Cashflow(ctx, descriptor.Params{}, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if res.Cached {
		t.Error("expected refetch after invalidation")
	}
}

func TestDashboardService_ViewState(t *testing.T) {
	s := newTestService(&fakeBackend{}, nil)
	ctx := context.Background()

	if got := s.ViewState(ctx, "u1", ""); got.ActiveRange != core.Month || got.FlowTab != core.FlowAll {
		t.Errorf("expected defaults, got %+v", got)
	}

	st := viewstate.Defaults()
	st.ActiveRange = core.Week
	st.Offset = -2
	saved := s.SaveViewState(ctx, "u1", "f9", st)

	if got := s.ViewState(ctx, "u1", "f9"); got.ActiveRange != core.Week || got.Offset != saved.Offset {
		t.Errorf("round trip mismatch: %+v vs %+v", got, saved)
	}
	if got := s.ViewState(ctx, "u1", ""); got.ActiveRange != core.Month {
		t.Errorf("friend view leaked into own view: %+v", got)
	}
}

func TestDashboardService_WriteDuringReadIsNotMasked(t *testing.T) {
	b := &fakeBackend{
		expenses: sampleExpenses(),
		hold:     make(chan struct{}),
		held:     make(chan struct{}),
	}
	s := newTestService(b, nil)
	ctx := context.Background()
	params := descriptor.Params{"range": "month"}

	done := make(chan error, 1)
	go func() {
		_, err := s.Cashflow(ctx, params, "", flowcache.Options{})
		done <- err
	}()
	<-b.held

	lunch := validExpense()
	b.mu.Lock()
	b.expenses = append(append([]core.Expense{}, b.expenses...), lunch)
	b.mu.Unlock()
	if _, err := s.AddExpense(ctx, "", lunch); err != nil {
		t.Fatalf("AddExpense() error = %v", err)
	}

	fresh, err := s.Cashflow(ctx, params, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if fresh.Totals.Outflow != 916 {
		t.Errorf("read after write outflow = %v, want 916", fresh.Totals.Outflow)
	}

	close(b.hold)
	if err := <-done; err != nil {
		t.Fatalf("in-flight Cashflow() error = %v", err)
	}

	again, err := s.Cashflow(ctx, params, "", flowcache.Options{})
	if err != nil {
		t.Fatalf("Cashflow() error = %v", err)
	}
	if !again.Cached {
		t.Error("expected the post-write view to be served from cache")
	}
	if again.Totals.Outflow != 916 {
		t.Errorf("cached outflow = %v, want 916; the pre-write read overwrote it", again.Totals.Outflow)
	}
}
