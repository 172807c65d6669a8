package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfman30/vetcare-booking-core/internal/booking"
	"github.com/wolfman30/vetcare-booking-core/internal/dispatch"
	"github.com/wolfman30/vetcare-booking-core/pkg/logging"
)

// errorBody is the JSON shape of every failed console call.
type errorBody struct {
	Error     string           `json:"error"`
	Code      string           `json:"code"`
	Retryable bool             `json:"retryable,omitempty"`
	Current   booking.Status   `json:"currentStatus,omitempty"`
	Latest    *booking.Booking `json:"latest,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps domain errors to status codes. It is the only place that
// does so.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("console request failed", "status", status, "code", body.Code, "error", err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var (
		invalid  *booking.InvalidTransitionError
		conflict *booking.ConcurrentModificationError
		bTrans   *booking.TransportError
		dTrans   *dispatch.TransportError
	)
	switch {
	case errors.As(err, &invalid):
		body.Code = "INVALID_TRANSITION"
		body.Current = invalid.Current
		return http.StatusConflict, body
	case errors.As(err, &conflict):
		body.Code = "CONCURRENT_MODIFICATION"
		body.Latest = conflict.Latest
		return http.StatusConflict, body
	case errors.Is(err, booking.ErrConcurrentModification):
		body.Code = "CONCURRENT_MODIFICATION"
		return http.StatusConflict, body
	case errors.As(err, &bTrans), errors.As(err, &dTrans), errors.Is(err, dispatch.ErrSubscriptionLost):
		body.Code = "TRANSPORT_FAILURE"
		body.Retryable = true
		return http.StatusBadGateway, body
	case errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, booking.ErrServiceNotFound),
		errors.Is(err, dispatch.ErrAlertNotFound),
		errors.Is(err, dispatch.ErrNoSession):
		body.Code = "NOT_FOUND"
		return http.StatusNotFound, body
	case errors.Is(err, dispatch.ErrNotActive), errors.Is(err, dispatch.ErrSessionClosed):
		body.Code = "ALERT_NOT_ACTIVE"
		return http.StatusConflict, body
	case errors.Is(err, booking.ErrInvalidRequest),
		errors.Is(err, booking.ErrStaffRequired),
		errors.Is(err, booking.ErrStaffIneligible),
		errors.Is(err, booking.ErrNoStaffedServices),
		errors.Is(err, booking.ErrUnknownConfirmOption),
		errors.Is(err, dispatch.ErrStaffRequired),
		errors.Is(err, dispatch.ErrClinicRequired):
		body.Code = "VALIDATION_FAILED"
		return http.StatusBadRequest, body
	case errors.Is(err, errForbidden):
		body.Code = "FORBIDDEN"
		return http.StatusForbidden, body
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		body.Code = "TIMEOUT"
		body.Retryable = true
		return http.StatusGatewayTimeout, body
	}
	body.Code = "INTERNAL"
	body.Error = "internal server error"
	return http.StatusInternalServerError, body
}

var errForbidden = errors.New("console: clinic access denied")

// decodeBody reads a JSON body. optional accepts an empty body.
func decodeBody(r *http.Request, dst any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	}
	return fmt.Errorf("%w: invalid JSON body", booking.ErrInvalidRequest)
}
