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

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errCapacity(details any) *DomainError {
	return domainError(http.StatusConflict, "CAPACITY_EXCEEDED",
		"Allocation would exceed the resource's capacity", details)
}
