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
	"fmt"
	"strings"
)

// ValidateTenant checks that a tenant identifier is present.
func ValidateTenant(tenant TenantID) error {
	if strings.TrimSpace(string(tenant)) == "" {
		return ErrInvalidTenant
	}
	return nil
}

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - TenantID must not be empty
//   - ID must not be empty
//   - Version must be positive
//   - Status must be a known value
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if err := ValidateTenant(doc.TenantID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidDocument)
	}
	if doc.Version < 1 {
		return fmt.Errorf("%w: version %d", ErrInvalidDocument, doc.Version)
	}
	if doc.Status < DocumentUploaded || doc.Status > DocumentFailed {
		return fmt.Errorf("%w: status %d", ErrInvalidDocument, doc.Status)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - TenantID and DocumentID must not be empty
//   - Version must be positive, Sequence non-negative
//   - The span must be well formed
//
// NOT validated:
//   - Vector (empty when the embedding service rejected the text)
//   - Text (an empty span is recorded with an EmbedError)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if err := ValidateTenant(chunk.TenantID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}
	if chunk.DocumentID == "" {
		return fmt.Errorf("%w: document id is empty", ErrInvalidChunk)
	}
	if chunk.Version < 1 || chunk.Sequence < 0 {
		return fmt.Errorf("%w: version %d sequence %d", ErrInvalidChunk, chunk.Version, chunk.Sequence)
	}
	if chunk.Start < 0 || chunk.End < chunk.Start {
		return fmt.Errorf("%w: span [%d,%d)", ErrInvalidChunk, chunk.Start, chunk.End)
	}
	return nil
}

// CanTransition reports whether the task state machine allows from -> to.
//
//	PENDING    -> PROCESSING | CANCELLED
//	PROCESSING -> SUCCEEDED | FAILED | PENDING (retry)
//
// Terminal states never change.
func CanTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskProcessing || to == TaskCancelled
	case TaskProcessing:
		return to == TaskSucceeded || to == TaskFailed || to == TaskPending
	default:
		return false
	}
}
