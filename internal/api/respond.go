package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/logging"
)

var errNoProbe = errors.New("probe not configured")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "invalid_input":
		return http.StatusBadRequest
	case "forbidden", "not_owner", "too_late_to_cancel":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "slot_conflict", "invalid_transition", "stale_state":
		return http.StatusConflict
	case "invalid_range", "doctor_unavailable", "no_availability", "outside_availability":
		return http.StatusUnprocessableEntity
	case "store_unavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleError writes the JSON error body for an engine error. Unexpected
// errors are logged and their details withheld.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appointment.ErrorKind(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: kind, Details: err.Error(), Retryable: appointment.IsRetryable(err)}
	if status == http.StatusInternalServerError {
		nop := zerolog.Nop()
		logging.FromContext(r.Context(), &nop).Error().Err(err).Msg("unhandled error")
		resp = ErrorResponse{Error: "internal_error"}
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}
