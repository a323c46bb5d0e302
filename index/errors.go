package index

import "errors"

// ErrClosed indicates the manager has been closed.
var ErrClosed = errors.New("index manager is closed")
