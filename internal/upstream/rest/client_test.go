package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/upstream"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{BaseURL: srv.URL + "/", Token: "secret"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
	if _, err := NewClient(Options{BaseURL: "not a url"}); err == nil {
		t.Fatal("expected error for invalid base URL")
	}
}

func TestReadCashflowEncodesDescriptor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/expenses/cashflow" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("range") != "week" || q.Get("offset") != "-1" || q.Get("targetId") != "friend" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Has("flowType") || q.Has("ownerId") {
			t.Errorf("unset fields must not be sent: %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(core.CashflowResponse{
			Expenses: []core.Expense{{ID: "1", Date: "2024-05-01", Amount: 3}},
			DashboardPayload: &core.DashboardPayload{
				XKey:   "day",
				Totals: core.Totals{Outflow: 3, Total: 3},
			},
		})
	})

	d := descriptor.Cashflow(descriptor.Params{"range": "week", "offset": "-1", "targetId": "friend", "ownerId": "me", "flowType": "all"})
	resp, err := c.ReadCashflow(context.Background(), d)
	if err != nil {
		t.Fatalf("ReadCashflow: %v", err)
	}
	if len(resp.Expenses) != 1 || resp.DashboardPayload == nil || resp.DashboardPayload.Totals.Total != 3 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestReadCashflowAcceptsBareList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a","date":"2024-01-02","amount":5,"type":"loss"}]`))
	})
	resp, err := c.ReadCashflow(context.Background(), descriptor.Cashflow(nil))
	if err != nil {
		t.Fatalf("ReadCashflow: %v", err)
	}
	if len(resp.Expenses) != 1 || resp.DashboardPayload != nil {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestReadCategoryFlow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/expenses/all-by-categories/detailed/filtered" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("rangeType") != "month" || r.URL.Query().Get("groupBy") != "true" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"name":"Food","expenses":[{"date":"2024-05-01","details":{"type":"loss","amount":50}}]}]`))
	})
	resp, err := c.ReadCategoryFlow(context.Background(), descriptor.CategoryFlow(descriptor.Params{"groupBy": "1"}))
	if err != nil {
		t.Fatalf("ReadCategoryFlow: %v", err)
	}
	if len(resp.Buckets) != 1 || resp.Buckets[0].Name != "Food" || resp.Buckets[0].Expenses[0].ResolvedAmount() != 50 {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWritesScopeToTarget(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		switch r.URL.Path {
		case "/api/expenses/add-expense", "/api/expenses/edit-expense/42":
			var e core.Expense
			if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
				t.Errorf("decode body: %v", err)
			}
			e.ID = "42"
			_ = json.NewEncoder(w).Encode(e)
		case "/api/expenses/add-multiple":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/api/expenses/add-multiple/tracked":
			_, _ = w.Write([]byte(`{"jobId":"job-1"}`))
		case "/api/expenses/add-multiple/progress/job-1":
			_, _ = w.Write([]byte(`{"status":"running","total":2,"processed":1}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()
	e := core.Expense{Name: "Coffee", Date: "2024-05-01", Type: "loss", Amount: 2}

	added, err := c.AddExpense(ctx, "f1", e)
	if err != nil || added.ID != "42" {
		t.Fatalf("AddExpense = %+v, %v", added, err)
	}
	if _, err := c.EditExpense(ctx, "", "42", e); err != nil {
		t.Fatalf("EditExpense: %v", err)
	}
	if err := c.DeleteExpense(ctx, "f1", "42"); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}
	n, err := c.AddMultiple(ctx, "", []core.Expense{e, e})
	if err != nil || n != 2 {
		t.Fatalf("AddMultiple = %d, %v", n, err)
	}
	job, err := c.AddMultipleTracked(ctx, "", []core.Expense{e})
	if err != nil || job != "job-1" {
		t.Fatalf("AddMultipleTracked = %q, %v", job, err)
	}
	p, err := c.BulkProgress(ctx, job)
	if err != nil || p.JobID != "job-1" || p.Processed != 1 {
		t.Fatalf("BulkProgress = %+v, %v", p, err)
	}

	want := []string{
		"POST /api/expenses/add-expense?targetId=f1",
		"PUT /api/expenses/edit-expense/42?",
		"DELETE /api/expenses/delete/42?targetId=f1",
		"POST /api/expenses/add-multiple?",
		"POST /api/expenses/add-multiple/tracked?",
		"GET /api/expenses/add-multiple/progress/job-1?",
	}
	if len(seen) != len(want) {
		t.Fatalf("requests = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message field", http.StatusBadRequest, `{"message":"Amount is required","error":"bad"}`, "Amount is required"},
		{"error field", http.StatusConflict, `{"error":"Duplicate expense"}`, "Duplicate expense"},
		{"nested error", http.StatusBadGateway, `{"error":{"message":"upstream down"}}`, "upstream down"},
		{"plain text body", http.StatusInternalServerError, `boom`, "request failed with status code 500"},
		{"empty body", http.StatusServiceUnavailable, ``, "request failed with status code 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.ListExpenses(context.Background(), upstream.ListQuery{})
			var apiErr *upstream.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Message != tt.want || apiErr.Status != tt.status {
				t.Errorf("got %d %q, want %d %q", apiErr.Status, apiErr.Message, tt.status, tt.want)
			}
		})
	}
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such job"}`))
	})
	_, err := c.BulkProgress(context.Background(), "missing")
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "no such job" {
		t.Errorf("expected API message, got %v", err)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	c, err := NewClient(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	srv.Close()

	_, err = c.ListExpenses(context.Background(), upstream.ListQuery{TargetID: "x"})
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != 0 || apiErr.Message == "" || apiErr.Message == fallbackMessage {
		t.Errorf("expected transport error text, got %+v", apiErr)
	}
}

func TestTimeoutKeepsDeadlineCause(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := NewClient(Options{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.ReadCashflow(context.Background(), descriptor.Cashflow(nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded in the chain, got %v", err)
	}
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) || apiErr.Message == "" {
		t.Errorf("expected APIError with the transport message, got %v", err)
	}
}

func TestContextDeadlineKeepsCause(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ListExpenses(ctx, upstream.ListQuery{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestTransportErrorUsesInjectedLogger(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	var buf bytes.Buffer
	c, err := NewClient(Options{
		BaseURL: base,
		Logger:  slog.New(slog.NewTextHandler(&buf, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.ListExpenses(context.Background(), upstream.ListQuery{}); err == nil {
		t.Fatal("expected transport error")
	}
	if out := buf.String(); !strings.Contains(out, "Upstream request failed") || !strings.Contains(out, "path=") {
		t.Errorf("expected the failure on the injected logger, got %q", out)
	}
}

func TestExtractMessageFallback(t *testing.T) {
	if got := ExtractMessage(nil, nil); got != fallbackMessage {
		t.Errorf("got %q", got)
	}
	if got := ExtractMessage([]byte(`{"message":"  "}`), nil); got != fallbackMessage {
		t.Errorf("blank message should fall through, got %q", got)
	}
}

func TestListExpensesShapes(t *testing.T) {
	bodies := map[string]int{
		`[{"id":"1"},{"id":"2"}]`:   2,
		`{"expenses":[{"id":"1"}]}`: 1,
		`{"expenses":null}`:         0,
	}
	for body, want := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("targetId") != "t" {
				t.Errorf("missing targetId: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(body))
		})
		es, err := c.ListExpenses(context.Background(), upstream.ListQuery{TargetID: "t"})
		if err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		if len(es) != want {
			t.Errorf("%s: got %d expenses, want %d", body, len(es), want)
		}
	}
}
