// Package storage is the SQLite backend: expenses, persisted view states and
// tracked bulk imports.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/upstream"
	"cashflow/internal/viewstate"

	_ "modernc.org/sqlite"
)

var (
	_ upstream.Backend = (*SQLiteRepository)(nil)
	_ viewstate.KV     = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	wg      sync.WaitGroup
	now     func() time.Time
	logger  *slog.Logger
}

// NewSQLiteRepository opens dbPath and applies pending migrations. A nil
// logger means slog.Default.
func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; background imports share this pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db), now: time.Now, logger: logger}, nil
}

// Close waits for running imports and closes the database.
func (r *SQLiteRepository) Close() error {
	r.wg.Wait()
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func toRow(targetID, id string, e core.Expense) ExpenseRow {
	return ExpenseRow{
		ID:            id,
		TargetID:      targetID,
		Name:          e.ResolvedName(),
		Comments:      e.ResolvedComments(),
		Date:          e.Date,
		Day:           e.ISODay(),
		Type:          e.ResolvedType(),
		AmountCents:   decimal.NewFromFloat(e.ResolvedAmount()).Shift(2).Round(0).IntPart(),
		Category:      e.ResolvedCategory(),
		PaymentMethod: e.ResolvedPaymentMethod(),
	}
}

func fromRow(r ExpenseRow) core.Expense {
	amount, _ := decimal.New(r.AmountCents, -2).Float64()
	return core.Expense{
		ID:            r.ID,
		Name:          r.Name,
		Comments:      r.Comments,
		Date:          r.Date,
		Type:          r.Type,
		Amount:        amount,
		Category:      r.Category,
		PaymentMethod: r.PaymentMethod,
	}
}

func (r *SQLiteRepository) list(ctx context.Context, p ListExpensesParams) ([]core.Expense, error) {
	rows, err := r.queries.ListExpenses(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	out := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context, q upstream.ListQuery) ([]core.Expense, error) {
	return r.list(ctx, ListExpensesParams{
		TargetID: q.TargetID,
		FromDay:  core.Expense{Date: q.StartDate}.ISODay(),
		ToDay:    core.Expense{Date: q.EndDate}.ISODay(),
		Type:     q.Type,
		Category: q.Category,
	})
}

func (r *SQLiteRepository) ReadCashflow(ctx context.Context, d descriptor.CashflowDescriptor) (core.CashflowResponse, error) {
	all, err := r.list(ctx, ListExpensesParams{TargetID: upstream.Deref(d.TargetID)})
	if err != nil {
		return core.CashflowResponse{}, err
	}
	return core.CashflowResponse{Expenses: upstream.SelectCashflow(all, d, r.now())}, nil
}

func (r *SQLiteRepository) ReadCategoryFlow(ctx context.Context, d descriptor.CategoryFlowDescriptor) (core.CategoryFlowResponse, error) {
	all, err := r.list(ctx, ListExpensesParams{TargetID: upstream.Deref(d.TargetID)})
	if err != nil {
		return core.CategoryFlowResponse{}, err
	}
	return core.CategoryFlowResponse{Buckets: upstream.GroupCategoryFlow(all, d, r.now())}, nil
}

func (r *SQLiteRepository) AddExpense(ctx context.Context, targetID string, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	row := toRow(targetID, uuid.NewString(), e)
	if err := r.queries.InsertExpense(ctx, row); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	r.logger.DebugContext(ctx, "Expense saved to SQLite", "id", row.ID, "target_id", targetID, "amount_cents", row.AmountCents)
	return fromRow(row), nil
}

func (r *SQLiteRepository) EditExpense(ctx context.Context, targetID, id string, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	row := toRow(targetID, id, e)
	n, err := r.queries.UpdateExpense(ctx, row)
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense %s: %w", id, err)
	}
	if n == 0 {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, upstream.ErrNotFound)
	}
	return fromRow(row), nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, targetID, id string) error {
	n, err := r.queries.DeleteExpense(ctx, targetID, id)
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("expense %s: %w", id, upstream.ErrNotFound)
	}
	return nil
}

// AddMultiple inserts the batch in one transaction.
func (r *SQLiteRepository) AddMultiple(ctx context.Context, targetID string, es []core.Expense) (int, error) {
	for i, e := range es {
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("expense %d: %w", i, err)
		}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	for i, e := range es {
		if err := q.InsertExpense(ctx, toRow(targetID, uuid.NewString(), e)); err != nil {
			return 0, fmt.Errorf("insert expense %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(es), nil
}

// AddMultipleTracked records a job and imports in the background. Progress is
// kept in the bulk_jobs table, so it survives restarts of the reader.
func (r *SQLiteRepository) AddMultipleTracked(ctx context.Context, targetID string, es []core.Expense) (string, error) {
	job := BulkJobRow{ID: uuid.NewString(), Status: core.JobPending, Total: int64(len(es))}
	if err := r.queries.InsertBulkJob(ctx, job); err != nil {
		return "", fmt.Errorf("create bulk job: %w", err)
	}

	batch := append([]core.Expense(nil), es...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runImport(context.WithoutCancel(ctx), job, targetID, batch)
	}()
	return job.ID, nil
}

func (r *SQLiteRepository) runImport(ctx context.Context, job BulkJobRow, targetID string, es []core.Expense) {
	job.Status = core.JobRunning
	r.saveJob(ctx, job)
	for _, e := range es {
		if _, err := r.AddExpense(ctx, targetID, e); err != nil {
			job.Failed++
			r.logger.WarnContext(ctx, "Bulk import row failed", "job_id", job.ID, "error", err)
		}
		job.Processed++
		r.saveJob(ctx, job)
	}
	job.Status = core.JobCompleted
	if job.Total > 0 && job.Failed == job.Total {
		job.Status = core.JobFailed
		job.Error = "no expense could be imported"
	}
	r.saveJob(ctx, job)
	r.logger.InfoContext(ctx, "Bulk import finished", "job_id", job.ID, "status", job.Status, "processed", job.Processed, "failed", job.Failed)
}

func (r *SQLiteRepository) saveJob(ctx context.Context, job BulkJobRow) {
	if err := r.queries.UpdateBulkJob(ctx, job); err != nil {
		r.logger.ErrorContext(ctx, "Failed to update bulk job", "job_id", job.ID, "error", err)
	}
}

func (r *SQLiteRepository) BulkProgress(ctx context.Context, jobID string) (core.JobProgress, error) {
	job, err := r.queries.GetBulkJob(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.JobProgress{}, fmt.Errorf("job %s: %w", jobID, upstream.ErrNotFound)
	}
	if err != nil {
		return core.JobProgress{}, fmt.Errorf("get bulk job: %w", err)
	}
	return core.JobProgress{
		JobID:     job.ID,
		Status:    job.Status,
		Total:     int(job.Total),
		Processed: int(job.Processed),
		Failed:    int(job.Failed),
		Error:     job.Error,
	}, nil
}

// Get implements viewstate.KV.
func (r *SQLiteRepository) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.queries.GetViewState(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get view state: %w", err)
	}
	return v, true, nil
}

// Put implements viewstate.KV.
func (r *SQLiteRepository) Put(ctx context.Context, key, value string) error {
	if err := r.queries.UpsertViewState(ctx, key, value); err != nil {
		return fmt.Errorf("put view state: %w", err)
	}
	return nil
}
