package app

import (
	"fmt"
	"net/http"
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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

var (
	errUnauthorized  = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errVoteInFlight  = domainError(http.StatusConflict, "VOTE_IN_PROGRESS", "A vote on this entity is already being counted", nil)
	errLineNotFound  = domainError(http.StatusNotFound, "LINE_NOT_FOUND", "No lines in that range", nil)
	errAccountLocked = domainError(http.StatusForbidden, "ACCOUNT_LOCKED", "Account locked", nil)
)
