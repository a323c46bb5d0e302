// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds. Concrete failures wrap one of these so callers can classify
// them with errors.Is.
var (
	// ErrConfig indicates invalid parameters supplied by the caller.
	ErrConfig = errors.New("invalid configuration")

	// ErrTransient indicates a retryable failure of a remote dependency.
	ErrTransient = errors.New("transient failure")

	// ErrFatal indicates input that can never be processed.
	ErrFatal = errors.New("fatal failure")

	// ErrCapacity indicates the task backlog is full.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrQuery indicates a query could not be answered.
	ErrQuery = errors.New("query failed")
)

// Domain errors
var (
	// ErrInvalidTenant indicates a missing tenant identifier.
	ErrInvalidTenant = errors.New("invalid tenant identifier")

	// ErrEmptyContent indicates text that cannot be embedded.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidDocument indicates a document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidChunk indicates a chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrDimensionMismatch indicates a vector of the wrong length for an index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrTaskRunning indicates an operation that is not allowed on a running task.
	ErrTaskRunning = errors.New("task is running")

	// ErrInvalidTransition indicates a task state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Fatal marks err as non-retryable.
func Fatal(err error) error {
	if err == nil || errors.Is(err, ErrFatal) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether err was classified as unprocessable input.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Classify tags an unclassified error from a remote call.
// Timeouts and network errors are transient; everything else is fatal.
func Classify(err error) error {
	if err == nil || IsTransient(err) || IsFatal(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	return Fatal(err)
}
