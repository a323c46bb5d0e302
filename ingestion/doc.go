// Package ingestion turns document text into indexed chunks.
//
// A Pipeline run chunks a document version, embeds the chunks in
// concurrent batches, stores the chunk records, adds them to the tenant
// index and finally retires the chunks of earlier versions. Document status
// moves UPLOADED -> CHUNKED -> INDEXED, or FAILED when nothing could be
// indexed.
//
// Runs are idempotent per document version: chunk IDs are derived from
// tenant, document, version and sequence, and the index replaces entries by
// chunk ID, so a retried run converges on the same final state.
//
// Transient embedding failures abort the run with an error wrapping
// core.ErrTransient so the caller can retry. Chunks the embedding service
// rejects are stored with their error and skipped.
package ingestion
