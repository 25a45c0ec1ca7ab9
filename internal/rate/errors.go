package rate

import "errors"

// ErrBackendUnavailable means the Redis counter could not be reached. The
// limiter then counts in process.
var ErrBackendUnavailable = errors.New("rate: counter backend unavailable")
