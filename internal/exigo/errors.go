package exigo

import "fmt"

// ConnectionError means the Exigo Sync database could not be reached.
type ConnectionError struct {
	Driver string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("exigo: connect (%s): %v", e.Driver, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError means the database was reachable but the autoship query failed.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("exigo: %s query: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
