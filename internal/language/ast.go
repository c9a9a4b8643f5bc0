package language

import "github.com/vektah/gqlparser/v2/ast"

// Argument expressions reuse the GraphQL value grammar: it already keeps a
// NullValue apart from a StringValue whose raw text is "null".
type (
	Value      = ast.Value
	ChildValue = ast.ChildValue
	ValueKind  = ast.ValueKind
	Position   = ast.Position
)

const (
	Variable     ValueKind = ast.Variable
	IntValue     ValueKind = ast.IntValue
	FloatValue   ValueKind = ast.FloatValue
	StringValue  ValueKind = ast.StringValue
	BlockValue   ValueKind = ast.BlockValue
	BooleanValue ValueKind = ast.BooleanValue
	NullValue    ValueKind = ast.NullValue
	EnumValue    ValueKind = ast.EnumValue
	ListValue    ValueKind = ast.ListValue
	ObjectValue  ValueKind = ast.ObjectValue
)

// Invocation is a call of a named executable with positional arguments.
type Invocation struct {
	Name string
	Args []*Value
	// Stdin is piped to command executables when set.
	Stdin *string
}

// Node is a template node. Templates are ordered lists of nodes.
type Node interface {
	node()
}

// Text is literal template text.
type Text struct {
	Value string
}

// VarRef references a variable, optionally descending into fields.
type VarRef struct {
	Name   string
	Fields []string
}

// Conditional renders Body only when Cond is truthy.
type Conditional struct {
	Cond *VarRef
	Body []Node
}

func (*Text) node()        {}
func (*VarRef) node()      {}
func (*Conditional) node() {}

// Path returns the dotted form of the reference.
func (r *VarRef) Path() string {
	p := r.Name
	for _, f := range r.Fields {
		p += "." + f
	}
	return p
}

// WhenMode selects how many matching branches of a WhenExpr run.
type WhenMode string

const (
	WhenFirst WhenMode = "first"
	WhenAll   WhenMode = "all"
)

// WhenExpr is the structured conditional expression evaluated by the "when"
// pseudo-language. It is a node so it can sit where code source would.
type WhenExpr struct {
	Mode     WhenMode
	Branches []*WhenBranch
	Default  *WhenAction
}

type WhenBranch struct {
	Cond   *VarRef
	Negate bool
	Action *WhenAction
}

// WhenAction shows text on the effect channel and/or yields a value.
type WhenAction struct {
	Show  []Node
	Value []Node
}

func (*WhenExpr) node() {}
