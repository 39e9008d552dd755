// Package sheets reads expenses from a Google Sheets spreadsheet. The sheet is
// a read-only source: every write returns upstream.ErrReadOnly.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/upstream"
)

const defaultSheetName = "Expenses"

var _ upstream.Backend = (*Client)(nil)

// Config selects the spreadsheet and the service account used to read it.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	Logger          *slog.Logger
	// Options are appended to the service options; tests point them at a fake endpoint.
	Options []goption.ClientOption
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	now           func() time.Time
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	name := strings.TrimSpace(cfg.SheetName)
	if name == "" {
		name = defaultSheetName
	}

	opts := cfg.Options
	if len(opts) == 0 {
		creds, err := credentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsReadonlyScope),
		}
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Google Sheets backend ready", "spreadsheet_id", id, "sheet", name)
	return &Client{svc: svc, spreadsheetID: id, sheetName: name, now: time.Now}, nil
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
}

// readAll fetches every expense row. The sheet has no notion of friends, so
// requests scoped to another target see an empty list.
func (c *Client) readAll(ctx context.Context, targetID string) ([]core.Expense, error) {
	if targetID != "" {
		return []core.Expense{}, nil
	}
	rng := fmt.Sprintf("%s!A:G", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseRows(resp.Values), nil
}

func (c *Client) ListExpenses(ctx context.Context, q upstream.ListQuery) ([]core.Expense, error) {
	return c.readAll(ctx, q.TargetID)
}

func (c *Client) ReadCashflow(ctx context.Context, d descriptor.CashflowDescriptor) (core.CashflowResponse, error) {
	all, err := c.readAll(ctx, upstream.Deref(d.TargetID))
	if err != nil {
		return core.CashflowResponse{}, err
	}
	return core.CashflowResponse{Expenses: upstream.SelectCashflow(all, d, c.now())}, nil
}

func (c *Client) ReadCategoryFlow(ctx context.Context, d descriptor.CategoryFlowDescriptor) (core.CategoryFlowResponse, error) {
	all, err := c.readAll(ctx, upstream.Deref(d.TargetID))
	if err != nil {
		return core.CategoryFlowResponse{}, err
	}
	return core.CategoryFlowResponse{Buckets: upstream.GroupCategoryFlow(all, d, c.now())}, nil
}

func (c *Client) AddExpense(context.Context, string, core.Expense) (core.Expense, error) {
	return core.Expense{}, upstream.ErrReadOnly
}

func (c *Client) EditExpense(context.Context, string, string, core.Expense) (core.Expense, error) {
	return core.Expense{}, upstream.ErrReadOnly
}

func (c *Client) DeleteExpense(context.Context, string, string) error {
	return upstream.ErrReadOnly
}

func (c *Client) AddMultiple(context.Context, string, []core.Expense) (int, error) {
	return 0, upstream.ErrReadOnly
}

func (c *Client) AddMultipleTracked(context.Context, string, []core.Expense) (string, error) {
	return "", upstream.ErrReadOnly
}

func (c *Client) BulkProgress(context.Context, string) (core.JobProgress, error) {
	return core.JobProgress{}, upstream.ErrReadOnly
}

// parseRows reads "date | name | type | amount | category | payment method |
// comments" rows. Rows without a parseable date or amount (the header
// included) are skipped. The row number becomes the expense id.
func parseRows(values [][]interface{}) []core.Expense {
	out := []core.Expense{}
	for i, row := range values {
		cols := toStrings(row)
		if len(cols) < 4 {
			continue
		}
		if _, ok := core.ParseDate(cols[0], time.Local); !ok {
			continue
		}
		amount, ok := parseAmount(cols[3])
		if !ok {
			continue
		}
		out = append(out, core.Expense{
			ID:            "row-" + strconv.Itoa(i+1),
			Date:          cols[0],
			Name:          safeGet(cols, 1),
			Type:          strings.ToLower(safeGet(cols, 2)),
			Amount:        amount,
			Category:      safeGet(cols, 4),
			PaymentMethod: safeGet(cols, 5),
			Comments:      safeGet(cols, 6),
		})
	}
	return out
}

// parseAmount accepts sheet-formatted numbers like "1.234,56", "12,5" or "-3".
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(s), "€$"))
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return core.Round2(f), true
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
