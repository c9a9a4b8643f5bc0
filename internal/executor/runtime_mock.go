package executor

import (
	"context"
	"sync"

	process "github.com/mlld-lang/mlld-sub001/internal/process"
	security "github.com/mlld-lang/mlld-sub001/internal/security"
)

// Call kinds recorded by MockRuntime.
const (
	CallKindCommand = "command"
	CallKindCode    = "code"
	CallKindPrompt  = "prompt"
	CallKindAnalyze = "analyze"
)

// MockCommand answers one command line.
type MockCommand func(ctx context.Context, commandLine string, opts process.Options) (string, error)

// MockCode answers one code request.
type MockCode func(ctx context.Context, req *CodeRequest) (any, error)

// MockPrompt answers one prompt request.
type MockPrompt func(ctx context.Context, req *PromptRequest) (any, error)

// Call is one recorded runtime interaction.
type Call struct {
	Kind       string
	Name       string
	Input      string
	PipelineID string
}

// MockRuntime implements Runtime and security.Analyzer with a single call log.
type MockRuntime struct {
	mu       sync.Mutex
	calls    []Call
	command  MockCommand
	code     map[string]MockCode
	prompt   MockPrompt
	assessor func(commandLine string) security.Assessment
}

// NewMockRuntime returns a runtime whose commands echo their command line and
// whose analyzer flags nothing.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		code: make(map[string]MockCode),
		command: func(ctx context.Context, commandLine string, opts process.Options) (string, error) {
			return commandLine + "\n", nil
		},
		assessor: func(string) security.Assessment { return security.Assessment{} },
	}
}

func (m *MockRuntime) SetCommand(f MockCommand) {
	m.mu.Lock()
	m.command = f
	m.mu.Unlock()
}

func (m *MockRuntime) SetCode(language string, f MockCode) {
	m.mu.Lock()
	m.code[language] = f
	m.mu.Unlock()
}

func (m *MockRuntime) SetPrompt(f MockPrompt) {
	m.mu.Lock()
	m.prompt = f
	m.mu.Unlock()
}

func (m *MockRuntime) SetAssessment(f func(commandLine string) security.Assessment) {
	m.mu.Lock()
	m.assessor = f
	m.mu.Unlock()
}

func (m *MockRuntime) record(c Call) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *MockRuntime) ExecuteCommand(ctx context.Context, commandLine string, opts process.Options) (string, error) {
	m.record(Call{Kind: CallKindCommand, Input: commandLine, PipelineID: opts.PipelineID})
	m.mu.Lock()
	f := m.command
	m.mu.Unlock()
	out, err := f(ctx, commandLine, opts)
	if err != nil {
		return "", err
	}
	if opts.OnLine != nil {
		for _, l := range splitLines(out) {
			opts.OnLine(l)
		}
	}
	return out, nil
}

func (m *MockRuntime) RunCode(ctx context.Context, req *CodeRequest) (any, error) {
	m.record(Call{Kind: CallKindCode, Name: req.Language, Input: req.Source, PipelineID: req.PipelineID})
	m.mu.Lock()
	f := m.code[req.Language]
	m.mu.Unlock()
	if f == nil {
		return nil, NoRuntimeError(req.Language)
	}
	return f(ctx, req)
}

func (m *MockRuntime) RunPrompt(ctx context.Context, req *PromptRequest) (any, error) {
	m.record(Call{Kind: CallKindPrompt, Name: req.ConfigRef, Input: req.Prompt, PipelineID: req.PipelineID})
	m.mu.Lock()
	f := m.prompt
	m.mu.Unlock()
	if f == nil {
		return req.Prompt, nil
	}
	return f(ctx, req)
}

func (m *MockRuntime) Analyze(commandLine string) security.Assessment {
	m.record(Call{Kind: CallKindAnalyze, Input: commandLine})
	m.mu.Lock()
	f := m.assessor
	m.mu.Unlock()
	return f(commandLine)
}

// GetCalls returns a copy of the call log.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CountCalls returns how many calls of kind were recorded.
func (m *MockRuntime) CountCalls(kind string) int {
	n := 0
	for _, c := range m.GetCalls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
