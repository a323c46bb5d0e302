package orchestrator

import "errors"

var (
	// ErrHandlerRequired is returned when no ingestion handler is supplied.
	ErrHandlerRequired = errors.New("ingestion handler is required")

	// ErrTaskRepositoryRequired is returned when no task repository is supplied.
	ErrTaskRepositoryRequired = errors.New("task repository is required")

	// ErrTaskNotFound is returned for an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("orchestrator stopped")
)
