package executor

import (
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
)

// Result is the outcome of one dispatch.
type Result struct {
	Value any
	// Env is the scope the caller continues from.
	Env               *env.Environment
	OutputDescriptors []executable.OutputDescriptor
}
