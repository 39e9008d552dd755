// Package rest talks to the expenses REST backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/upstream"
)

const (
	defaultTimeout  = 15 * time.Second
	maxErrorBody    = 64 << 10
	fallbackMessage = "Something went wrong. Please try again."
	apiPrefix       = "/api/expenses"
)

var _ upstream.Backend = (*Client)(nil)

// Options configures the Client.
type Options struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored then.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a thin JSON client. It never retries: a failed request is reported
// once with the best message the backend provided.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

func NewClient(o Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if base == "" {
		return nil, errors.New("rest: missing base URL")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("rest: invalid base URL: %w", err)
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: hc, baseURL: base, token: o.Token, logger: logger}, nil
}

func (c *Client) ListExpenses(ctx context.Context, q upstream.ListQuery) ([]core.Expense, error) {
	v, err := query.Values(q)
	if err != nil {
		return nil, fmt.Errorf("encode list query: %w", err)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/fetch-expenses", v, nil, &raw); err != nil {
		return nil, err
	}
	return decodeExpenses(raw)
}

func (c *Client) ReadCashflow(ctx context.Context, d descriptor.CashflowDescriptor) (core.CashflowResponse, error) {
	v, err := query.Values(d)
	if err != nil {
		return core.CashflowResponse{}, fmt.Errorf("encode cashflow query: %w", err)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/cashflow", v, nil, &raw); err != nil {
		return core.CashflowResponse{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || isArray(raw) {
		es, err := decodeExpenses(raw)
		return core.CashflowResponse{Expenses: es}, err
	}
	var resp core.CashflowResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return core.CashflowResponse{}, fmt.Errorf("decode cashflow: %w", err)
	}
	return resp, nil
}

func (c *Client) ReadCategoryFlow(ctx context.Context, d descriptor.CategoryFlowDescriptor) (core.CategoryFlowResponse, error) {
	v, err := query.Values(d)
	if err != nil {
		return core.CategoryFlowResponse{}, fmt.Errorf("encode category flow query: %w", err)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/all-by-categories/detailed/filtered", v, nil, &raw); err != nil {
		return core.CategoryFlowResponse{}, err
	}
	resp := core.CategoryFlowResponse{Buckets: []core.Bucket{}}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp, nil
	}
	if isArray(raw) {
		if err := json.Unmarshal(raw, &resp.Buckets); err != nil {
			return core.CategoryFlowResponse{}, fmt.Errorf("decode category flow: %w", err)
		}
		return resp, nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return core.CategoryFlowResponse{}, fmt.Errorf("decode category flow: %w", err)
	}
	return resp, nil
}

func (c *Client) AddExpense(ctx context.Context, targetID string, e core.Expense) (core.Expense, error) {
	var out core.Expense
	if err := c.do(ctx, http.MethodPost, "/add-expense", target(targetID), e, &out); err != nil {
		return core.Expense{}, err
	}
	return out, nil
}

func (c *Client) EditExpense(ctx context.Context, targetID, id string, e core.Expense) (core.Expense, error) {
	var out core.Expense
	if err := c.do(ctx, http.MethodPut, "/edit-expense/"+url.PathEscape(id), target(targetID), e, &out); err != nil {
		return core.Expense{}, err
	}
	return out, nil
}

func (c *Client) DeleteExpense(ctx context.Context, targetID, id string) error {
	return c.do(ctx, http.MethodDelete, "/delete/"+url.PathEscape(id), target(targetID), nil, nil)
}

type bulkRequest struct {
	Expenses []core.Expense `json:"expenses"`
}

func (c *Client) AddMultiple(ctx context.Context, targetID string, es []core.Expense) (int, error) {
	var out struct {
		Count *int `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, "/add-multiple", target(targetID), bulkRequest{es}, &out); err != nil {
		return 0, err
	}
	if out.Count == nil {
		return len(es), nil
	}
	return *out.Count, nil
}

func (c *Client) AddMultipleTracked(ctx context.Context, targetID string, es []core.Expense) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/add-multiple/tracked", target(targetID), bulkRequest{es}, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", errors.New("tracked import: backend returned no job id")
	}
	return out.JobID, nil
}

func (c *Client) BulkProgress(ctx context.Context, jobID string) (core.JobProgress, error) {
	var out core.JobProgress
	if err := c.do(ctx, http.MethodGet, "/add-multiple/progress/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return core.JobProgress{}, err
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Upstream request failed", "method", method, "path", path, "error", err)
		return transportError(err)
	}
	defer resp.Body.Close()
	c.logger.DebugContext(ctx, "Upstream response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &upstream.APIError{
			Status:  resp.StatusCode,
			Message: ExtractMessage(b, fmt.Errorf("request failed with status code %d", resp.StatusCode)),
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", upstream.ErrNotFound, apiErr)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// transportError keeps the cause of a failed round trip next to the extracted
// message. Client timeouts are reported as context.DeadlineExceeded.
func transportError(err error) error {
	apiErr := &upstream.APIError{Message: ExtractMessage(nil, err)}
	var ne net.Error
	if !errors.Is(err, context.DeadlineExceeded) && errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w: %w", apiErr, context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %w", apiErr, err)
}

// ExtractMessage picks the most useful human-readable message: the body's
// "message", then its "error", then the error text, then a fixed fallback.
func ExtractMessage(body []byte, err error) string {
	if len(body) > 0 {
		var payload struct {
			Message any `json:"message"`
			Error   any `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil {
			if s := messageString(payload.Message); s != "" {
				return s
			}
			if s := messageString(payload.Error); s != "" {
				return s
			}
		}
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallbackMessage
}

func messageString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case map[string]any:
		return messageString(x["message"])
	}
	return ""
}

func target(id string) url.Values {
	if id == "" {
		return nil
	}
	return url.Values{"targetId": []string{id}}
}

func isArray(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) > 0 && b[0] == '['
}

// decodeExpenses accepts either a bare array or an object with an "expenses" field.
func decodeExpenses(raw json.RawMessage) ([]core.Expense, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []core.Expense{}, nil
	}
	if isArray(raw) {
		var es []core.Expense
		if err := json.Unmarshal(raw, &es); err != nil {
			return nil, fmt.Errorf("decode expenses: %w", err)
		}
		return es, nil
	}
	var wrapped struct {
		Expenses []core.Expense `json:"expenses"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode expenses: %w", err)
	}
	if wrapped.Expenses == nil {
		wrapped.Expenses = []core.Expense{}
	}
	return wrapped.Expenses, nil
}
