package fluid

import (
	"errors"
	"fmt"
)

// Sentinel errors for the Fluid client.
var (
	ErrNotFound = errors.New("fluid: resource not found")
	ErrAuth     = errors.New("fluid: authentication failed")
	ErrTimeout  = errors.New("fluid: request timed out")
)

// APIError is any other non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fluid: API error (status %d): %s", e.Status, e.Body)
}
