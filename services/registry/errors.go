package registry

import "errors"

var (
	// ErrInvalidCursor marks a pagination token that cannot be decoded for the
	// source that received it. Callers map it to a client error; it is never
	// downgraded to "start from the beginning".
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrNotFound marks an absent agent or work.
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks a relational-store or blob-store failure. Transient;
	// surfaced to clients as 503.
	ErrUpstream = errors.New("upstream unavailable")
)
