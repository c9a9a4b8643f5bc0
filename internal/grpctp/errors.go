package grpctp

import "errors"

var (
	// ErrNoEndpoints indicates the provider has no endpoints for a target.
	ErrNoEndpoints = errors.New("grpctp: no endpoints available")
)
