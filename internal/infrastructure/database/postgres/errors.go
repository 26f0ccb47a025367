package postgres

import "fmt"

// CriticalWriteError marks a decision write that did not reach the
// database. Callers must surface it; a lost decision row is never
// acceptable.
type CriticalWriteError struct {
	Entity string
	Key    string
	Err    error
}

func (e *CriticalWriteError) Error() string {
	return fmt.Sprintf("CRITICAL: %s %s decision was not persisted: %v", e.Entity, e.Key, e.Err)
}

func (e *CriticalWriteError) Unwrap() error { return e.Err }
