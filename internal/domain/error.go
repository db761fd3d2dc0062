package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Admission errors, reported synchronously to the submitter.
	ErrAutoJobAlreadyRunning = errors.New("auto-triggered job already running for project")

	// Dispatch errors. A job hit by one of these is failed before any task is created.
	ErrNoEligibleWorker = errors.New("no eligible worker available")

	// Lifecycle errors
	ErrJobNotFound     = errors.New("job not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrJobTerminal     = errors.New("job already in a terminal status")
	ErrBadTransition   = errors.New("illegal job status transition")

	// Aggregation errors. The project's current model state is never modified
	// when one of these is returned.
	ErrAggregationFailed = errors.New("model aggregation failed")

	ErrInvalidExecContext = errors.New("invalid query execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
