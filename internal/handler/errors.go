package handler

import (
	"errors"
	"net/http"

	"docent/internal/domain"
	"docent/internal/httputil"
)

// respondDomainError maps domain errors to RFC 7807 responses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, "unauthorized")
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
