// Package httpserver contains the HTTP handlers and middleware for the
// fraud-risk API. It keeps HTTP concerns out of the usecase layer: handlers
// validate, call a service, and translate domain errors into the error
// envelope.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrDuplicateID):
		codeStr = "DUPLICATE_ID"
	case errors.Is(err, domain.ErrBrokerUnavailable):
		codeStr = "BROKER_UNAVAILABLE"
	case errors.Is(err, domain.ErrStoreUnavailable):
		codeStr = "STORE_UNAVAILABLE"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
