package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingDeployment indicates that no model deployment could be
	// resolved from configuration; this aborts the turn.
	ErrMissingDeployment = errors.New("no model deployment resolvable")

	// ErrCyclicDependency indicates that a sub-query dependency graph
	// contains a cycle; decomposition is aborted before any execution.
	ErrCyclicDependency = errors.New("cyclic sub-query dependency")

	// ErrCitationViolation indicates that generated text cited a source
	// outside the citation enumeration.
	ErrCitationViolation = errors.New("citation integrity violation")

	// ErrStreamClosed indicates a read from an already finished or
	// cancelled stream reader.
	ErrStreamClosed = errors.New("stream closed")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
