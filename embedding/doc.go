// Package embedding turns chunk text into vectors through a remote
// embedding service.
//
// The Gateway wraps an ai.Embedder with the failure handling the ingestion
// pipeline relies on: empty text is rejected locally, calls are rate limited
// and time-bounded, timeouts and network failures are reported as transient
// batch errors, and inputs the service refuses are isolated so that one bad
// chunk does not fail its whole batch.
package embedding
