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

// Package storage provides the storage abstraction layer for the engine.
//
// This package defines repository interfaces that decouple persistence from
// the ingestion, indexing and orchestration logic, plus the binary codec
// used for stored records.
//
// # Architecture
//
//   - DocumentRepository: document versions and their status
//   - ChunkRepository: chunk text, spans and vectors
//   - TaskRepository: ingestion task records and idempotency keys
//   - SnapshotRepository: persisted tenant indices
//
// Every record except tasks is keyed by tenant, so one tenant's data can be
// scanned or removed without touching another's.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	repos := badger.NewRepositories(backend)
//
// Tests use an in-memory backend:
//
//	repos, backend, err := badger.NewMemoryRepositories()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
