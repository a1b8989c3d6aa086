package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"toolplane/internal/lifecycle"
	"toolplane/internal/router"
	"toolplane/pkg/logging"
)

type errorBody struct {
	Error    string           `json:"error"`
	From     string           `json:"from,omitempty"`
	Attempts []router.Attempt `json:"attempts,omitempty"`
}

// writeError maps domain errors onto HTTP status codes: unknown service is
// 404, an illegal transition is 409, an exhausted fallback chain is 502 with
// its attempt trail, everything else is 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownService):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case lifecycle.IsIllegalTransition(err):
		var it *lifecycle.IllegalTransitionError
		errors.As(err, &it)
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), From: string(it.From)})
	case router.IsExhausted(err):
		var ex *router.ExhaustedError
		errors.As(err, &ex)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Attempts: ex.Attempts})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug(subsystem, "Failed to encode response: %v", err)
	}
}
