package embedding

import "errors"

// ErrBatchSize indicates the service returned a different number of vectors
// than texts it was sent.
var ErrBatchSize = errors.New("embedding count does not match input count")
