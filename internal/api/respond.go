package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/apperr"
	"github.com/hackgods/telehealth-scheduling/internal/appointment"
	"github.com/hackgods/telehealth-scheduling/internal/availability"
	"github.com/hackgods/telehealth-scheduling/internal/lock"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// errorCodes names the conflicts clients are expected to branch on.
var errorCodes = []struct {
	err  error
	code string
}{
	{appointment.ErrSlotTaken, "slot_taken"},
	{appointment.ErrAppointmentExpiredState, "appointment_expired"},
	{appointment.ErrInvalidStatusTransition, "invalid_status_transition"},
	{availability.ErrInvalidTransition, "invalid_transition"},
	{lock.ErrNotAcquired, "resource_busy"},
}

// writeServiceError maps a core error to its HTTP status by kind. Internal
// errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logrus.Logger, err error) {
	kind := apperr.KindOf(err)
	code := kind.String()
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}

	switch kind {
	case apperr.Validation:
		writeError(w, http.StatusBadRequest, code, err.Error())
	case apperr.NotFound:
		writeError(w, http.StatusNotFound, code, err.Error())
	case apperr.Conflict:
		writeError(w, http.StatusConflict, code, err.Error())
	case apperr.Forbidden:
		writeError(w, http.StatusForbidden, code, err.Error())
	case apperr.Transient:
		log.WithField("request_id", GetRequestID(r.Context())).WithError(err).Warn("transient failure")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "please retry")
	default:
		log.WithFields(logrus.Fields{
			"request_id": GetRequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{v: validator.New()}
}

// decode reads a JSON body into dst and validates it. On failure the
// response has been written and false is returned.
func (rv *requestValidator) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := rv.v.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "validation_error",
			Fields: formatValidationErrors(err),
		})
		return false
	}
	return true
}

func formatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["body"] = err.Error()
		return out
	}
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "uuid":
			out[field] = field + " must be a valid UUID"
		case "oneof":
			out[field] = field + " must be one of: " + e.Param()
		case "min":
			out[field] = field + " must have at least " + e.Param() + " entries"
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}
