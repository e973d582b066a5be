package types

import "errors"

// Request-level error classes. Components wrap these with fmt.Errorf("...: %w")
// and the HTTP layer maps them to status codes with errors.Is.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrTooManyRequests = errors.New("too many requests")
	ErrCacheIO         = errors.New("cache I/O failure")
)
