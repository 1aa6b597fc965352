package app

import "fmt"

// DomainError carries an HTTP status and client-safe message across the
// service boundary. Anything else surfacing from a handler becomes a generic
// 500 with the cause logged server-side only.
type DomainError struct {
	Status  int
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func domainError(status int, message string) *DomainError {
	return &DomainError{
		Status:  status,
		Message: message,
	}
}
