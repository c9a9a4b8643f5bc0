// Package manifest loads executable definitions and variables from YAML.
package manifest

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	builtin "github.com/mlld-lang/mlld-sub001/internal/builtin"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

// Manifest is the decoded file.
type Manifest struct {
	Variables   map[string]any         `yaml:"variables"`
	Executables map[string]*Executable `yaml:"executables"`
}

// Executable is one definition entry. Which fields apply depends on Kind.
type Executable struct {
	Kind   executable.Kind `yaml:"kind"`
	Params []string        `yaml:"params"`

	Template string `yaml:"template"`

	Command string `yaml:"command"`
	Stream  bool   `yaml:"stream"`

	Language string `yaml:"language"`
	Code     string `yaml:"code"`
	When     *When  `yaml:"when"`

	Target string `yaml:"target"`
	Args   string `yaml:"args"`
	Invoke string `yaml:"invoke"`

	Prompt string `yaml:"prompt"`
	Config string `yaml:"config"`

	Value any `yaml:"value"`
}

type When struct {
	Mode     language.WhenMode `yaml:"mode"`
	Branches []WhenBranch      `yaml:"branches"`
	Default  *WhenAction       `yaml:"default"`
}

type WhenBranch struct {
	If         string `yaml:"if"`
	Not        bool   `yaml:"not"`
	WhenAction `yaml:",inline"`
}

type WhenAction struct {
	Show  string  `yaml:"show"`
	Value *string `yaml:"value"`
}

// Load reads and decodes a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}

// Scope builds a root environment holding the builtins, the variables and
// every executable of the manifest.
func (m *Manifest) Scope() (*env.Environment, error) {
	scope := env.New()
	builtin.Define(scope)
	for k, v := range m.Variables {
		scope.Set(k, normalize(v))
	}
	names := make([]string, 0, len(m.Executables))
	for name := range m.Executables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def, err := m.Executables[name].Definition()
		if err != nil {
			return nil, fmt.Errorf("manifest: executable %q: %w", name, err)
		}
		scope.Define(executable.NewVariable(name, def))
	}
	return scope, nil
}

// Definition converts the entry into its definition variant.
func (e *Executable) Definition() (executable.Definition, error) {
	h := executable.Header{ParamNames: e.Params, SourceDirective: "exe"}
	switch e.Kind {
	case executable.KindTemplate:
		nodes, err := language.ParseTemplate(e.Template)
		if err != nil {
			return nil, err
		}
		return &executable.Template{Header: h, Nodes: nodes}, nil
	case executable.KindCommand:
		nodes, err := language.ParseTemplate(e.Command)
		if err != nil {
			return nil, err
		}
		return &executable.Command{Header: h, Nodes: nodes, Stream: e.Stream}, nil
	case executable.KindCode:
		def := &executable.Code{Header: h, Language: e.Language}
		if e.Code != "" {
			nodes, err := language.ParseTemplate(e.Code)
			if err != nil {
				return nil, err
			}
			def.Source = nodes
		}
		if e.When != nil {
			expr, err := e.When.expr()
			if err != nil {
				return nil, err
			}
			def.Expr = expr
		}
		return def, nil
	case executable.KindCommandRef:
		def := &executable.CommandRef{Header: h, Target: e.Target}
		if e.Args != "" {
			args, err := language.ParseArgs(e.Args)
			if err != nil {
				return nil, fmt.Errorf("args: %w", err)
			}
			def.Args = args
		}
		if e.Invoke != "" {
			inv, err := language.ParseInvocation(e.Invoke)
			if err != nil {
				return nil, err
			}
			def.Invocation = inv
		}
		if def.Target == "" && def.Invocation == nil {
			return nil, fmt.Errorf("commandRef needs a target or an invoke expression")
		}
		return def, nil
	case executable.KindProse:
		nodes, err := language.ParseTemplate(e.Prompt)
		if err != nil {
			return nil, err
		}
		return &executable.Prose{Header: h, Prompt: nodes, ConfigRef: e.Config}, nil
	case executable.KindData:
		return &executable.Data{Header: h, Payload: normalize(e.Value)}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", e.Kind)
	}
}

func (w *When) expr() (*language.WhenExpr, error) {
	mode := w.Mode
	if mode == "" {
		mode = language.WhenFirst
	}
	if mode != language.WhenFirst && mode != language.WhenAll {
		return nil, fmt.Errorf("when: unknown mode %q", w.Mode)
	}
	out := &language.WhenExpr{Mode: mode}
	for i, b := range w.Branches {
		br := &language.WhenBranch{Negate: b.Not}
		if b.If != "" {
			ref, err := language.ParseRef(b.If)
			if err != nil {
				return nil, fmt.Errorf("when branch %d: %w", i, err)
			}
			br.Cond = ref
		}
		action, err := b.WhenAction.action()
		if err != nil {
			return nil, fmt.Errorf("when branch %d: %w", i, err)
		}
		br.Action = action
		out.Branches = append(out.Branches, br)
	}
	if w.Default != nil {
		action, err := w.Default.action()
		if err != nil {
			return nil, fmt.Errorf("when default: %w", err)
		}
		out.Default = action
	}
	return out, nil
}

func (a WhenAction) action() (*language.WhenAction, error) {
	out := &language.WhenAction{}
	if a.Show != "" {
		nodes, err := language.ParseTemplate(a.Show)
		if err != nil {
			return nil, err
		}
		out.Show = nodes
	}
	if a.Value != nil {
		nodes, err := language.ParseTemplate(*a.Value)
		if err != nil {
			return nil, err
		}
		if nodes == nil {
			nodes = []language.Node{}
		}
		out.Value = nodes
	}
	return out, nil
}

// normalize converts yaml's map[any]any, should any appear, into
// map[string]any so field access in templates works.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, x := range t {
			t[k] = normalize(x)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[fmt.Sprint(k)] = normalize(x)
		}
		return out
	case []any:
		for i, x := range t {
			t[i] = normalize(x)
		}
		return t
	}
	return v
}
