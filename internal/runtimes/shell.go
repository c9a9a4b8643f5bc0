package runtimes

import (
	"context"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	process "github.com/mlld-lang/mlld-sub001/internal/process"
)

// Shell runs code blocks as shell scripts. Bound parameters are exported as
// environment variables and stdout lines stream as effects.
type Shell struct {
	// Interpreter overrides the host shell, e.g. "bash".
	Interpreter string
}

func (s *Shell) Run(ctx context.Context, req *executor.CodeRequest) (any, error) {
	envVars := make(map[string]string, len(req.Bundle.Values))
	for k, v := range req.Bundle.Values {
		envVars[k] = v
	}
	opts := process.Options{
		PipelineID: req.PipelineID,
		Env:        envVars,
		Shell:      s.Interpreter,
	}
	if req.Emit != nil {
		opts.OnLine = func(line string) { req.Emit(string(effects.KindStdout), line) }
	}
	return req.Exec(ctx, req.Source, opts)
}
