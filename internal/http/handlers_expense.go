package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cashflow/internal/log"
	"cashflow/internal/upstream"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expenses, err := s.svc.ListExpenses(r.Context(), upstream.ListQuery{
		TargetID:  targetID(r),
		StartDate: strings.TrimSpace(q.Get("startDate")),
		EndDate:   strings.TrimSpace(q.Get("endDate")),
		Category:  strings.TrimSpace(q.Get("category")),
		Type:      strings.TrimSpace(q.Get("type")),
	})
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[expenseRequest](r)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}

	created, err := s.svc.AddExpense(r.Context(), targetID(r), req.toExpense())
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}

	log.FromContext(r.Context()).WithComponent(log.ComponentExpense).InfoContext(r.Context(), "Expense created",
		log.NewFields().
			WithOperation(log.OpCreate).
			WithScope(ownerID(r), targetID(r)).
			With(log.FieldExpenseID, created.ID).
			ToSlice()...)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := decodeJSON[expenseRequest](r)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}

	updated, err := s.svc.EditExpense(r.Context(), targetID(r), id, req.toExpense())
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.DeleteExpense(r.Context(), targetID(r), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}

	log.FromContext(r.Context()).WithComponent(log.ComponentExpense).InfoContext(r.Context(), "Expense deleted",
		log.FieldExpenseID, id,
		log.FieldTargetID, targetID(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleAddMultiple imports a batch. With ?tracked=1 the import runs in the
// background and the response carries a job id to poll.
func (s *Server) handleAddMultiple(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[bulkRequest](r)
	if err != nil {
		writeError(w, r, log.OpBulkImport, err)
		return
	}
	expenses := req.toExpenses()
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentExpense)

	if queryBool(r.URL.Query(), "tracked") {
		jobID, err := s.svc.AddMultipleTracked(r.Context(), targetID(r), expenses)
		if err != nil {
			writeError(w, r, log.OpBulkImport, err)
			return
		}
		logger.InfoContext(r.Context(), "Tracked import started",
			log.FieldJobID, jobID,
			log.FieldCount, len(expenses))
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
		return
	}

	n, err := s.svc.AddMultiple(r.Context(), targetID(r), expenses)
	if err != nil {
		writeError(w, r, log.OpBulkImport, err)
		return
	}
	logger.InfoContext(r.Context(), "Expenses imported", log.FieldCount, n)
	writeJSON(w, http.StatusCreated, map[string]int{"count": n})
}

func (s *Server) handleBulkProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.BulkProgress(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, r, log.OpProgress, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
