package storage

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the SQL the repository runs.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// ExpenseRow mirrors a row of the expenses table.
type ExpenseRow struct {
	ID            string
	TargetID      string
	Name          string
	Comments      string
	Date          string
	Day           string
	Type          string
	AmountCents   int64
	Category      string
	PaymentMethod string
}

const expenseColumns = `id, target_id, name, comments, date, day, type, amount_cents, category, payment_method`

func (q *Queries) InsertExpense(ctx context.Context, r ExpenseRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TargetID, r.Name, r.Comments, r.Date, r.Day, r.Type, r.AmountCents, r.Category, r.PaymentMethod)
	return err
}

// UpdateExpense returns the number of rows changed.
func (q *Queries) UpdateExpense(ctx context.Context, r ExpenseRow) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE expenses
		 SET name = ?, comments = ?, date = ?, day = ?, type = ?, amount_cents = ?,
		     category = ?, payment_method = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND target_id = ?`,
		r.Name, r.Comments, r.Date, r.Day, r.Type, r.AmountCents, r.Category, r.PaymentMethod, r.ID, r.TargetID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpense returns the number of rows removed.
func (q *Queries) DeleteExpense(ctx context.Context, targetID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND target_id = ?`, id, targetID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExpensesParams filters by target and optionally by day range, type and
// category. Empty strings disable a filter.
type ListExpensesParams struct {
	TargetID string
	FromDay  string
	ToDay    string
	Type     string
	Category string
}

func (q *Queries) ListExpenses(ctx context.Context, p ListExpensesParams) ([]ExpenseRow, error) {
	var (
		where = []string{"target_id = ?"}
		args  = []any{p.TargetID}
	)
	if p.FromDay != "" {
		where = append(where, "day >= ?")
		args = append(args, p.FromDay)
	}
	if p.ToDay != "" {
		where = append(where, "day <= ?")
		args = append(args, p.ToDay)
	}
	if p.Type != "" {
		where = append(where, "type = ?")
		args = append(args, p.Type)
	}
	if p.Category != "" {
		where = append(where, "category = ?")
		args = append(args, p.Category)
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE `+strings.Join(where, " AND ")+` ORDER BY day, created_at, id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpenseRow
	for rows.Next() {
		var r ExpenseRow
		if err := rows.Scan(&r.ID, &r.TargetID, &r.Name, &r.Comments, &r.Date, &r.Day, &r.Type, &r.AmountCents, &r.Category, &r.PaymentMethod); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *Queries) GetViewState(ctx context.Context, key string) (string, error) {
	var v string
	err := q.db.QueryRowContext(ctx, `SELECT value FROM view_states WHERE key = ?`, key).Scan(&v)
	return v, err
}

func (q *Queries) UpsertViewState(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO view_states (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

// BulkJobRow mirrors a row of the bulk_jobs table.
type BulkJobRow struct {
	ID        string
	Status    string
	Total     int64
	Processed int64
	Failed    int64
	Error     string
}

func (q *Queries) InsertBulkJob(ctx context.Context, r BulkJobRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO bulk_jobs (id, status, total, processed, failed, error) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Total, r.Processed, r.Failed, r.Error)
	return err
}

func (q *Queries) UpdateBulkJob(ctx context.Context, r BulkJobRow) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE bulk_jobs
		 SET status = ?, processed = ?, failed = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		r.Status, r.Processed, r.Failed, r.Error, r.ID)
	return err
}

func (q *Queries) GetBulkJob(ctx context.Context, id string) (BulkJobRow, error) {
	var r BulkJobRow
	err := q.db.QueryRowContext(ctx,
		`SELECT id, status, total, processed, failed, error FROM bulk_jobs WHERE id = ?`, id).
		Scan(&r.ID, &r.Status, &r.Total, &r.Processed, &r.Failed, &r.Error)
	return r, err
}
