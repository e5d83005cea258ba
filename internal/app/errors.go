package app

import "fmt"

// DomainError is an error the API surface can transport: it carries the HTTP
// status and a stable machine-readable code alongside the human message.
// Engine and store errors are translated into these at the service boundary.
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
