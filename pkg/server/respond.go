package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/portfoliokit/curator/pkg/constants"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
}

type writeFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type errorBody struct {
	Error string `json:"error"`
	// Applied lists the writes that landed before the failure was reported.
	Applied []string       `json:"applied,omitempty"`
	Failed  []writeFailure `json:"failed,omitempty"`
	Result  any            `json:"result,omitempty"`
}

func failures(in []constants.WriteFailure) []writeFailure {
	out := make([]writeFailure, len(in))
	for i, f := range in {
		out[i] = writeFailure{ID: f.ID, Error: f.Err.Error()}
	}
	return out
}

// statusFor maps an error to its HTTP status. Write failures are matched first: they also wrap
// the store errors of the rejected writes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, constants.ErrStoreWriteFailed),
		errors.Is(err, constants.ErrPartialFailure):
		return http.StatusBadGateway
	case errors.Is(err, constants.ErrInvalidDirection),
		errors.Is(err, constants.ErrInvalidPayload),
		errors.Is(err, constants.ErrMixedCollections):
		return http.StatusBadRequest
	case errors.Is(err, constants.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, constants.ErrNotFound),
		errors.Is(err, constants.ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, constants.ErrMoveInFlight),
		errors.Is(err, constants.ErrKeySpaceExhausted):
		return http.StatusConflict
	case errors.Is(err, constants.ErrSync),
		errors.Is(err, constants.ErrNotStarted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondFailure writes err with the applied and failed record lists when it carries them.
func respondFailure(w http.ResponseWriter, err error, result any) {
	body := errorBody{Error: err.Error(), Result: result}

	var writeErr *constants.StoreWriteFailedError
	var partialErr *constants.PartialFailureError
	switch {
	case errors.As(err, &writeErr):
		body.Applied = writeErr.Applied
		body.Failed = failures(writeErr.Failed)
	case errors.As(err, &partialErr):
		body.Applied = partialErr.Succeeded
		body.Failed = failures(partialErr.Failed)
	}
	respondJSON(w, statusFor(err), body)
}
