package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/tazuna-ai/tazuna/internal/model"
	"github.com/tazuna-ai/tazuna/internal/store"
)

// apiError carries an explicit status and code through the mutation
// pipeline so handlers can fail with a precise envelope.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(message string) *apiError {
	return &apiError{status: http.StatusBadRequest, code: model.ErrCodeValidation, message: message}
}

// mapError translates service and store errors into the API error
// envelope. Anything not matched falls through to a 500 with the
// original message withheld from the client.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		writeError(w, r, apiErr.status, apiErr.code, apiErr.message)
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	case errors.Is(err, store.ErrIllegalTransition),
		errors.Is(err, store.ErrAlreadyExecuted),
		errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, store.ErrAlreadyRolledBack),
		errors.Is(err, store.ErrOutcomeRecorded):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, store.ErrIdempotencyPayloadMismatch):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "idempotency key reused with a different request body")
	case errors.Is(err, store.ErrIdempotencyInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "request with this idempotency key is already in progress")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeTimeout, "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		// Client went away; the status is best-effort.
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeTimeout, "request canceled")
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
	}
}
