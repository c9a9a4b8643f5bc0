package remote

import (
	"context"
	"errors"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	interp "github.com/mlld-lang/mlld-sub001/internal/interp"
	process "github.com/mlld-lang/mlld-sub001/internal/process"
	security "github.com/mlld-lang/mlld-sub001/internal/security"
)

// ErrPromptUnsupported is returned by ShellHandler for prose prompts.
var ErrPromptUnsupported = errors.New("remote: this worker does not answer prompts")

// ShellHandler serves sh and bash code on the worker's own shell. Arguments
// are exported as environment variables and stdout lines become effects.
type ShellHandler struct {
	Shell  *process.Shell
	Policy security.Analyzer
}

func (h *ShellHandler) RunCode(ctx context.Context, call *CodeCall, emit func(Effect)) (any, error) {
	var interpreter string
	if !executor.IsShellLanguage(call.Language) {
		return nil, executor.NoRuntimeError(call.Language)
	}
	if call.Language == "bash" {
		interpreter = "bash"
	}
	if h.Policy != nil {
		a := h.Policy.Analyze(call.Source)
		if a.Blocked {
			risk, _ := a.FirstBlocking()
			return nil, &executor.DispatchError{
				Kind: executor.ErrSecurity,
				Name: call.Name,
				Msg:  "Security: Exec command blocked - " + risk.Description,
			}
		}
	}
	envVars := make(map[string]string, len(call.Args))
	for k, v := range call.Args {
		envVars[k] = interp.Stringify(v)
	}
	out, err := h.Shell.Execute(ctx, call.Source, process.Options{
		PipelineID: call.PipelineID,
		Env:        envVars,
		Shell:      interpreter,
		OnLine:     func(line string) { emit(Effect{Kind: string(effects.KindStdout), Text: line}) },
	})
	if err != nil {
		return nil, err
	}
	return trimNewline(out), nil
}

func (h *ShellHandler) RunPrompt(ctx context.Context, call *PromptCall, emit func(Effect)) (any, error) {
	return nil, ErrPromptUnsupported
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		return s[:n-1]
	}
	return s
}
