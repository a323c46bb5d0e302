// Package index maintains one in-memory vector index per tenant.
//
// Each tenant index is an immutable snapshot. Mutations build a new
// snapshot, persist it, then publish it, so a concurrent search always sees
// a complete before or after state and never waits on a writer. Writers
// are serialized per tenant; tenants never share a lock.
//
// Loaded snapshots live in a memory-bounded cache. A tenant evicted from
// the cache is reloaded from its persisted snapshot on next access.
package index
