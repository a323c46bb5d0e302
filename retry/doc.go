// Package retry implements exponential backoff with full jitter for
// operations that fail with transient errors.
//
// The backoff ceiling after the n-th failure is BaseDelay * 2^(n-1), capped at
// MaxDelay; the actual wait is drawn uniformly from [0, ceiling]. Errors not
// classified as core.ErrTransient are never retried.
package retry
