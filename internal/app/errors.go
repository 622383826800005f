package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/psinetreject/card-scanner/internal/auth"
	"github.com/psinetreject/card-scanner/internal/authpw"
	"github.com/psinetreject/card-scanner/internal/fields"
	"github.com/psinetreject/card-scanner/internal/intake"
	"github.com/psinetreject/card-scanner/internal/rbac"
	"github.com/psinetreject/card-scanner/internal/session"
	"github.com/psinetreject/card-scanner/internal/store"
)

const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeRateLimited  = "RATE_LIMITED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeServer       = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func forbidden(action rbac.Action) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, "Forbidden", map[string]any{
		"action":       action,
		"requiredRole": rbac.Minimum(action),
	})
}

func notFound(what, id string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s %s not found", what, id), nil)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, message, nil)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
}

// asDomain classifies lower-layer errors into the domain taxonomy. Errors
// it does not recognise pass through unchanged.
func asDomain(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	var wrapped *DomainError
	switch {
	case errors.Is(err, intake.ErrRateLimited):
		wrapped = domainError(http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded; retry later", nil)
	case errors.Is(err, store.ErrVersionNotFound):
		wrapped = conflict(err.Error())
	case errors.Is(err, store.ErrNotFound):
		wrapped = domainError(http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, session.ErrNotFound), errors.Is(err, authpw.ErrInvalidCredentials):
		wrapped = unauthorized()
	default:
		if verr, ok := fields.AsValidation(err); ok {
			wrapped = validationError(verr.Error(), map[string]any{"problems": verr.Problems})
		}
	}
	if wrapped == nil {
		return err
	}
	wrapped.err = err
	return wrapped
}

// KindOf returns the domain error code for err, or SERVER_ERROR.
func KindOf(err error) string {
	var domainErr *DomainError
	if errors.As(asDomain(err), &domainErr) {
		return domainErr.Code
	}
	return CodeServer
}
