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

// Package query answers natural-language questions from a tenant's corpus.
//
// The Engine runs a multi-stage retrieval:
//   - Embed the question
//   - Search the tenant index for topK * CandidateFactor candidates
//   - Drop candidates whose chunk is missing, superseded or foreign
//   - Rank by similarity weighted by freshness and keep topK
//   - Ask the answer generator, passing its answer through verbatim
//
// Every failure is reported wrapped in core.ErrQuery. Queries are never
// retried.
package query
