// Package runtimes hosts the side-effecting collaborators of the executor:
// the process runner, code runtimes by language and the prompt backend.
package runtimes

import (
	"context"
	"errors"
	"sort"
	"sync"

	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	process "github.com/mlld-lang/mlld-sub001/internal/process"
)

// ErrNoPromptBackend is returned by Host.RunPrompt when no backend is set.
var ErrNoPromptBackend = errors.New("no prompt backend configured")

// CodeRuntime runs code of one language.
type CodeRuntime interface {
	Run(ctx context.Context, req *executor.CodeRequest) (any, error)
}

// CodeRuntimeFunc adapts a function to CodeRuntime.
type CodeRuntimeFunc func(ctx context.Context, req *executor.CodeRequest) (any, error)

func (f CodeRuntimeFunc) Run(ctx context.Context, req *executor.CodeRequest) (any, error) {
	return f(ctx, req)
}

// PromptBackend answers prose prompts.
type PromptBackend interface {
	Run(ctx context.Context, req *executor.PromptRequest) (any, error)
}

// CommandRunner spawns command lines.
type CommandRunner interface {
	Execute(ctx context.Context, commandLine string, opts process.Options) (string, error)
}

// Registry maps language tags to code runtimes.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]CodeRuntime
}

func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]CodeRuntime)}
}

// Register binds rt to every tag in languages, replacing earlier bindings.
func (r *Registry) Register(rt CodeRuntime, languages ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range languages {
		r.runtimes[l] = rt
	}
}

func (r *Registry) Lookup(language string) (CodeRuntime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[language]
	return rt, ok
}

// Languages returns the registered tags in order.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.runtimes))
	for l := range r.runtimes {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Host implements executor.Runtime.
type Host struct {
	Commands CommandRunner
	Code     *Registry
	Prompt   PromptBackend
}

// NewHost returns a Host running commands through runner, with the sh, bash
// and when runtimes registered.
func NewHost(runner CommandRunner) *Host {
	reg := NewRegistry()
	reg.Register(&Shell{}, "sh")
	reg.Register(&Shell{Interpreter: "bash"}, "bash")
	reg.Register(When{}, executor.WhenLanguage)
	return &Host{Commands: runner, Code: reg}
}

func (h *Host) ExecuteCommand(ctx context.Context, commandLine string, opts process.Options) (string, error) {
	return h.Commands.Execute(ctx, commandLine, opts)
}

func (h *Host) RunCode(ctx context.Context, req *executor.CodeRequest) (any, error) {
	if h.Code == nil {
		return nil, executor.NoRuntimeError(req.Language)
	}
	rt, ok := h.Code.Lookup(req.Language)
	if !ok {
		return nil, executor.NoRuntimeError(req.Language)
	}
	return rt.Run(ctx, req)
}

func (h *Host) RunPrompt(ctx context.Context, req *executor.PromptRequest) (any, error) {
	if h.Prompt == nil {
		return nil, ErrNoPromptBackend
	}
	return h.Prompt.Run(ctx, req)
}
