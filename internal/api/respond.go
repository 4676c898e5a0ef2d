package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"fieldcore/pkg/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		notFound   domain.ErrNotFound
		dupName    domain.ErrDuplicateName
		dupKey     domain.ErrDuplicateKey
		invalid    domain.ErrInvalidCombination
		unknown    domain.ErrUnknownField
		dependents domain.ErrHasDependents
		payload    domain.ErrPayloadStore
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &dupName), errors.As(err, &dupKey), errors.As(err, &dependents), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &payload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
