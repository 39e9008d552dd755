// Package memory is an in-process backend for development and tests. It never
// pre-aggregates, so the dashboard always builds charts itself.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/upstream"
)

// SeedFile is looked up in the data directory by NewFromDir.
const SeedFile = "seed_expenses.json"

// selfScope is the seed file key for the owner's own expenses.
const selfScope = "self"

var _ upstream.Backend = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	items map[string][]core.Expense // keyed by target id, "" is the owner
	jobs  map[string]core.JobProgress
	wg    sync.WaitGroup
	now   func() time.Time
}

func New() *Store {
	return &Store{
		items: make(map[string][]core.Expense),
		jobs:  make(map[string]core.JobProgress),
		now:   time.Now,
	}
}

// NewFromDir seeds the store from dir/seed_expenses.json when present. The file
// maps a target id ("self" for the owner) to a list of expenses.
func NewFromDir(dir string) (*Store, error) {
	s := New()
	b, err := os.ReadFile(filepath.Join(dir, SeedFile))
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed map[string][]core.Expense
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for scope, es := range seed {
		if scope == selfScope {
			scope = ""
		}
		for _, e := range es {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			s.items[scope] = append(s.items[scope], e)
		}
	}
	return s, nil
}

func (s *Store) snapshot(targetID string) []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items[targetID])
}

func (s *Store) ListExpenses(_ context.Context, q upstream.ListQuery) ([]core.Expense, error) {
	all := s.snapshot(q.TargetID)
	start, hasStart := core.ParseDate(q.StartDate, time.Local)
	end, hasEnd := core.ParseDate(q.EndDate, time.Local)

	out := []core.Expense{}
	for _, e := range all {
		if q.Type != "" && e.ResolvedType() != q.Type {
			continue
		}
		if q.Category != "" && e.ResolvedCategory() != q.Category {
			continue
		}
		if hasStart || hasEnd {
			t, ok := e.ParsedDate(time.Local)
			if !ok || (hasStart && t.Before(start)) || (hasEnd && !t.Before(end.AddDate(0, 0, 1))) {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) ReadCashflow(_ context.Context, d descriptor.CashflowDescriptor) (core.CashflowResponse, error) {
	all := s.snapshot(upstream.Deref(d.TargetID))
	return core.CashflowResponse{Expenses: upstream.SelectCashflow(all, d, s.now())}, nil
}

func (s *Store) ReadCategoryFlow(_ context.Context, d descriptor.CategoryFlowDescriptor) (core.CategoryFlowResponse, error) {
	all := s.snapshot(upstream.Deref(d.TargetID))
	return core.CategoryFlowResponse{Buckets: upstream.GroupCategoryFlow(all, d, s.now())}, nil
}

func (s *Store) AddExpense(_ context.Context, targetID string, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	e.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[targetID] = append(s.items[targetID], e)
	return e, nil
}

func (s *Store) EditExpense(_ context.Context, targetID, id string, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[targetID]
	i := slices.IndexFunc(items, func(x core.Expense) bool { return x.ID == id })
	if i < 0 {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, upstream.ErrNotFound)
	}
	e.ID = id
	items[i] = e
	return e, nil
}

func (s *Store) DeleteExpense(_ context.Context, targetID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.items[targetID]
	i := slices.IndexFunc(items, func(x core.Expense) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("expense %s: %w", id, upstream.ErrNotFound)
	}
	s.items[targetID] = slices.Delete(items, i, i+1)
	return nil
}

// AddMultiple is all or nothing: one invalid expense rejects the batch.
func (s *Store) AddMultiple(_ context.Context, targetID string, es []core.Expense) (int, error) {
	for i, e := range es {
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("expense %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		e.ID = uuid.NewString()
		s.items[targetID] = append(s.items[targetID], e)
	}
	return len(es), nil
}

// AddMultipleTracked imports in the background. Invalid expenses are counted
// as failed and skipped.
func (s *Store) AddMultipleTracked(ctx context.Context, targetID string, es []core.Expense) (string, error) {
	jobID := uuid.NewString()
	batch := slices.Clone(es)

	s.mu.Lock()
	s.jobs[jobID] = core.JobProgress{JobID: jobID, Status: core.JobPending, Total: len(batch)}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runImport(context.WithoutCancel(ctx), jobID, targetID, batch)
	}()
	return jobID, nil
}

func (s *Store) runImport(ctx context.Context, jobID, targetID string, es []core.Expense) {
	s.update(jobID, func(p *core.JobProgress) { p.Status = core.JobRunning })
	for _, e := range es {
		_, err := s.AddExpense(ctx, targetID, e)
		s.update(jobID, func(p *core.JobProgress) {
			p.Processed++
			if err != nil {
				p.Failed++
			}
		})
	}
	s.update(jobID, func(p *core.JobProgress) {
		p.Status = core.JobCompleted
		if p.Total > 0 && p.Failed == p.Total {
			p.Status = core.JobFailed
			p.Error = "no expense could be imported"
		}
	})
}

func (s *Store) update(jobID string, fn func(*core.JobProgress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.jobs[jobID]
	fn(&p)
	s.jobs[jobID] = p
}

func (s *Store) BulkProgress(_ context.Context, jobID string) (core.JobProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.jobs[jobID]
	if !ok {
		return core.JobProgress{}, fmt.Errorf("job %s: %w", jobID, upstream.ErrNotFound)
	}
	return p, nil
}

// Wait blocks until every tracked import has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}
