package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/points"
	"github.com/warp/loyalty-engine/validation"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

var errUnauthorized = errors.New("authentication required")

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := classify(err)
	if resp.Code == "cross_tenant" && !callerFrom(r.Context()).IsAdmin() {
		// Only admins learn which business owns the client.
		resp.Error = points.ErrCrossTenant.Error()
		delete(resp.Details, "clientBusinessId")
	}
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		// Internal details stay in the log.
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}

	var (
		ib  *points.InsufficientBalanceError
		ct  *points.CrossTenantError
		nf  *points.NotFoundError
		ve  *validation.Error
		ine *points.InconsistentEntryError
	)

	switch {
	case errors.Is(err, errUnauthorized):
		resp.Code = "unauthorized"
		return http.StatusUnauthorized, resp

	case errors.As(err, &ib):
		resp.Code = "insufficient_balance"
		resp.Details = map[string]any{
			"available": ib.Available,
			"requested": ib.Requested,
			"shortfall": ib.Shortfall,
		}
		return http.StatusBadRequest, resp
	case errors.Is(err, points.ErrInsufficientBalance):
		resp.Code = "insufficient_balance"
		return http.StatusBadRequest, resp

	case errors.As(err, &ct):
		resp.Code = "cross_tenant"
		resp.Details = map[string]any{
			"itemBusinessId":   ct.ItemBusinessID,
			"clientBusinessId": ct.ClientBusinessID,
		}
		return http.StatusBadRequest, resp
	case errors.Is(err, points.ErrCrossTenant):
		resp.Code = "cross_tenant"
		return http.StatusBadRequest, resp

	case errors.As(err, &ve):
		resp.Code = "validation"
		resp.Details = map[string]any{"fields": ve.Fields}
		return http.StatusBadRequest, resp
	case errors.As(err, &ine):
		resp.Code = "validation"
		resp.Details = map[string]any{"before": ine.Before, "delta": ine.Delta, "after": ine.After}
		return http.StatusBadRequest, resp
	case errors.Is(err, points.ErrValidation):
		resp.Code = "validation"
		return http.StatusBadRequest, resp

	case errors.Is(err, points.ErrForbidden):
		resp.Code = "forbidden"
		return http.StatusForbidden, resp
	case errors.Is(err, points.ErrInvalidActivationCode):
		resp.Code = "invalid_activation_code"
		return http.StatusForbidden, resp

	case errors.As(err, &nf):
		resp.Code = "not_found"
		resp.Details = map[string]any{"kind": nf.Kind, "id": nf.ID}
		return http.StatusNotFound, resp
	case errors.Is(err, points.ErrNotFound):
		resp.Code = "not_found"
		return http.StatusNotFound, resp

	case errors.Is(err, points.ErrDuplicateCardID):
		resp.Code = "duplicate_card_id"
		return http.StatusConflict, resp
	case errors.Is(err, points.ErrDuplicateSlug):
		resp.Code = "duplicate_slug"
		return http.StatusConflict, resp
	case errors.Is(err, points.ErrDuplicateName):
		resp.Code = "duplicate_name"
		return http.StatusConflict, resp
	case errors.Is(err, points.ErrDuplicateEmail):
		resp.Code = "duplicate_email"
		return http.StatusConflict, resp
	case errors.Is(err, points.ErrAlreadyActive):
		resp.Code = "already_active"
		return http.StatusConflict, resp

	case errors.Is(err, points.ErrPolicyViolation):
		resp.Code = "policy_violation"
		return http.StatusUnprocessableEntity, resp
	}

	resp.Code = "internal"
	return http.StatusInternalServerError, resp
}
