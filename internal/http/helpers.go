package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cashflow/internal/core"
	"cashflow/internal/descriptor"
	"cashflow/internal/flowcache"
	"cashflow/internal/log"
	"cashflow/internal/services"
	"cashflow/internal/upstream"
)

const (
	fallbackMessage = "Something went wrong. Please try again."

	// headerViewSlot names the view a request belongs to. Only the newest
	// request per slot is answered with data.
	headerViewSlot = "X-View-Slot"

	// maxSlotLen bounds the slot names kept in memory; longer values are
	// treated as if no slot was sent.
	maxSlotLen = 64
)

type errorResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and a {"message": ...} body and logs
// server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, body, errorType := classify(err)
	if status >= 500 {
		log.LogError(r.Context(), "Request failed", err, errorType, op, nil)
	} else {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Request rejected",
			log.FieldOperation, op,
			log.FieldStatusCode, status,
			log.FieldError, err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse, string) {
	var be *bindError
	if errors.As(err, &be) {
		return http.StatusBadRequest, errorResponse{Message: be.message, Errors: be.fields}, log.ErrorTypeValidation
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorResponse{Message: err.Error()}, log.ErrorTypeValidation
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound, errorResponse{Message: "not found"}, log.ErrorTypeNotFound
	case errors.Is(err, upstream.ErrReadOnly):
		return http.StatusNotImplemented, errorResponse{Message: "the data source is read-only"}, log.ErrorTypeReadOnly
	case errors.Is(err, flowcache.ErrSuperseded):
		return http.StatusConflict, errorResponse{Message: "request superseded by a newer one"}, log.ErrorTypeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Message: "the data source did not answer in time"}, log.ErrorTypeUpstream
	}

	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
		return status, errorResponse{Message: apiErr.Message}, log.ErrorTypeUpstream
	}
	return http.StatusInternalServerError, errorResponse{Message: fallbackMessage}, log.ErrorTypeInternal
}

func isValidationError(err error) bool {
	for _, target := range []error{
		core.ErrInvalidRange,
		core.ErrInvalidFlowType,
		core.ErrInvalidAmount,
		core.ErrInvalidDate,
		core.ErrInvalidType,
		core.ErrEmptyName,
		core.ErrNameTooLong,
		services.ErrNoExpenses,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// viewParams validates the enum parameters of a dashboard query and returns
// the parameter bag with them in canonical form. rangeKey is "range" or
// "rangeType" depending on the endpoint.
func viewParams(q url.Values, rangeKey string) (descriptor.Params, error) {
	p := descriptor.ParamsFromValues(q)
	if v := strings.TrimSpace(q.Get(rangeKey)); v != "" {
		rng, err := core.ParseRange(v)
		if err != nil {
			return nil, err
		}
		p[rangeKey] = string(rng)
	}
	if v := strings.TrimSpace(q.Get(descriptor.ParamFlowType)); v != "" {
		flow, err := core.ParseFlowTab(v)
		if err != nil {
			return nil, err
		}
		p[descriptor.ParamFlowType] = string(flow)
	}
	delete(p, "search")
	delete(p, "refresh")
	return p, nil
}

func fetchOptions(r *http.Request) flowcache.Options {
	slot := strings.TrimSpace(r.Header.Get(headerViewSlot))
	if len(slot) > maxSlotLen {
		slot = ""
	}
	return flowcache.Options{
		ForceRefetch: queryBool(r.URL.Query(), "refresh"),
		Slot:         slot,
	}
}

func queryBool(q url.Values, key string) bool {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func targetID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(descriptor.ParamTargetID))
}

func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(descriptor.ParamOwnerID))
}
