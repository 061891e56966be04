package app

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"quill/api/internal/auth"
	"quill/api/internal/authpw"
	"quill/api/internal/engine"
	"quill/api/internal/export"
	"quill/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errForbidden    = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
)

// mapError is the single place errors become HTTP responses.
func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr     *DomainError
		validationErr *engine.ValidationError
		fieldErrs     validation.Errors
		notFoundErr   *engine.NotFoundError
		stateErr      *engine.InvalidStateError
		staleErr      *engine.StaleBaseError
		storeErr      *engine.StoreError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), map[string]string{validationErr.Field: validationErr.Message}
	case errors.As(err, &fieldErrs):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", fieldErrs
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, "NOT_FOUND", notFoundErr.Error(), nil
	case errors.As(err, &stateErr):
		return http.StatusConflict, "INVALID_STATE", stateErr.Error(), map[string]string{"state": stateErr.State.String()}
	case errors.As(err, &staleErr):
		return http.StatusConflict, "STALE_BASE", staleErr.Error(), map[string]int{"baseVersion": staleErr.Base, "latestVersion": staleErr.Latest}
	case errors.As(err, &storeErr):
		if storeErr.Conflict() {
			return http.StatusConflict, "CONFLICT", "Another write landed first, reload and retry", nil
		}
		return http.StatusServiceUnavailable, "STORE_ERROR", "Storage unavailable", nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
