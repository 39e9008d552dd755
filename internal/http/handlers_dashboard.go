package http

import (
	"net/http"
	"strings"

	"cashflow/internal/descriptor"
	"cashflow/internal/log"
	"cashflow/internal/viewstate"
)

func (s *Server) handleCashflow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := viewParams(q, descriptor.ParamRange)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}

	res, err := s.svc.Cashflow(r.Context(), p, strings.TrimSpace(q.Get("search")), fetchOptions(r))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}

	log.FromContext(r.Context()).WithComponent(log.ComponentDashboard).DebugContext(r.Context(), "Cashflow served",
		log.NewFields().
			WithScope(ownerID(r), targetID(r)).
			WithCache(res.Key.String(), res.Cached).
			With(log.FieldRange, res.Descriptor.RangeOrDefault()).
			ToSlice()...)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCategoryFlow(w http.ResponseWriter, r *http.Request) {
	p, err := viewParams(r.URL.Query(), descriptor.ParamRangeType)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}

	res, err := s.svc.CategoryFlow(r.Context(), p, fetchOptions(r))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetViewState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ViewState(r.Context(), ownerID(r), targetID(r)))
}

// handlePutViewState stores the posted state. Invalid fields are replaced by
// defaults rather than rejected; the stored state is echoed back.
func (s *Server) handlePutViewState(w http.ResponseWriter, r *http.Request) {
	st, err := decodeJSON[viewstate.State](r)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.SaveViewState(r.Context(), ownerID(r), targetID(r), st))
}
