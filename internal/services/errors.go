package services

import (
	"fmt"
	"strings"
)

// ServiceError preserves what an outbound call saw so callers can classify it.
type ServiceError struct {
	Service    string
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Service, e.Endpoint)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " returned %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error { return e.Err }
