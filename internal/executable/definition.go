// Package executable defines executable definitions and the variables that
// bind them to names.
//
// A Definition is a closed set of variants. Each variant implements the
// unexported definition method, so no type outside this package can be a
// Definition and a type switch over the variants below is the complete set
// of kinds the executor handles.
package executable

import (
	"time"

	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

// Kind names a definition variant.
type Kind string

const (
	KindTemplate   Kind = "template"
	KindCode       Kind = "code"
	KindCommand    Kind = "command"
	KindCommandRef Kind = "commandRef"
	KindProse      Kind = "prose"
	KindData       Kind = "data"
)

// Definition is one of *Template, *Code, *Command, *CommandRef, *Prose, *Data.
type Definition interface {
	Kind() Kind
	Params() []string
	// Directive is the directive that produced the definition. Informational.
	Directive() string
	definition()
}

// Header is embedded by every definition.
type Header struct {
	ParamNames      []string
	SourceDirective string
}

func (h Header) Params() []string  { return h.ParamNames }
func (h Header) Directive() string { return h.SourceDirective }

// Template interpolates Nodes against the bound arguments.
type Template struct {
	Header
	Nodes []language.Node
}

// Code runs source in the runtime named by Language. Pseudo-languages that
// need structure (such as "when") read Expr instead of Source.
type Code struct {
	Header
	Language string
	Source   []language.Node
	Expr     language.Node
}

// Command interpolates Nodes into one shell command line.
type Command struct {
	Header
	Nodes []language.Node
	// Stream emits stdout lines as effects while the process runs.
	Stream bool
}

// CommandRef names another executable. Invocation, when set, is authoritative
// over Target and Args.
type CommandRef struct {
	Header
	Target     string
	Invocation *language.Invocation
	Args       []*language.Value
}

// Prose delegates Prompt to the prompt backend configured by ConfigRef.
type Prose struct {
	Header
	Prompt    []language.Node
	ConfigRef string
}

// Data is not executable. The executor rejects it.
type Data struct {
	Header
	Payload any
}

func (*Template) Kind() Kind   { return KindTemplate }
func (*Code) Kind() Kind       { return KindCode }
func (*Command) Kind() Kind    { return KindCommand }
func (*CommandRef) Kind() Kind { return KindCommandRef }
func (*Prose) Kind() Kind      { return KindProse }
func (*Data) Kind() Kind       { return KindData }

func (*Template) definition()   {}
func (*Code) definition()       {}
func (*Command) definition()    {}
func (*CommandRef) definition() {}
func (*Prose) definition()      {}
func (*Data) definition()       {}

// Variable is a named, callable binding.
type Variable struct {
	Name       string
	Definition Definition
	CreatedAt  time.Time
	ModifiedAt time.Time
	// Builtin is set for builtin transformers. The executor calls
	// Builtin.Impl directly and ignores Definition.
	Builtin *Transformer
}

// NewVariable binds def to name.
func NewVariable(name string, def Definition) *Variable {
	now := time.Now()
	return &Variable{Name: name, Definition: def, CreatedAt: now, ModifiedAt: now}
}

// IsBuiltin reports whether v is a builtin transformer.
func (v *Variable) IsBuiltin() bool { return v != nil && v.Builtin != nil }
