package store

import "errors"

var (
	// ErrConnection marks failures reaching the store: transport
	// errors, timeouts, auth rejections, server errors, and an open
	// circuit breaker. The tick aborts and the previous snapshot
	// stands.
	ErrConnection = errors.New("store connection failed")

	// ErrQuery marks requests the store understood and refused:
	// malformed filters, unknown columns, locally invalid parameters.
	ErrQuery = errors.New("store rejected query")
)
