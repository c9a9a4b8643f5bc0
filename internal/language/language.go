package language

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseInvocation parses `@name(arg, ...)`. Arguments use GraphQL literal
// syntax; `$x` references a variable.
func ParseInvocation(source string) (*Invocation, error) {
	src := strings.TrimSpace(source)
	src = strings.TrimPrefix(src, "@")
	open := strings.IndexByte(src, '(')
	if open < 0 {
		if !isName(src) {
			return nil, fmt.Errorf("invalid invocation %q", source)
		}
		return &Invocation{Name: src}, nil
	}
	if !strings.HasSuffix(src, ")") {
		return nil, fmt.Errorf("invalid invocation %q: missing closing parenthesis", source)
	}
	name := strings.TrimSpace(src[:open])
	if !isName(name) {
		return nil, fmt.Errorf("invalid invocation %q: bad name %q", source, name)
	}
	inner := strings.TrimSpace(src[open+1 : len(src)-1])
	if inner == "" {
		return &Invocation{Name: name}, nil
	}

	args, err := parseArgs(name, inner)
	if err != nil {
		return nil, fmt.Errorf("invalid invocation %q: %w", source, err)
	}
	return &Invocation{Name: name, Args: args}, nil
}

// ParseArgs parses a comma separated argument list without parentheses.
func ParseArgs(source string) ([]*Value, error) {
	inner := strings.TrimSpace(source)
	if inner == "" {
		return nil, nil
	}
	return parseArgs("args", inner)
}

func parseArgs(name, inner string) ([]*Value, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: fmt.Sprintf("{ %s(args: [%s]) }", name, inner)})
	if err != nil {
		return nil, err
	}
	field, ok := doc.Operations[0].SelectionSet[0].(*ast.Field)
	if !ok {
		return nil, fmt.Errorf("unexpected selection")
	}
	list := field.Arguments.ForName("args").Value
	args := make([]*Value, len(list.Children))
	for i, c := range list.Children {
		args[i] = c.Value
	}
	return args, nil
}

func isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Literal helpers, mostly for building invocations in code.

func String(s string) *Value { return &Value{Kind: StringValue, Raw: s} }
func Null() *Value           { return &Value{Kind: NullValue, Raw: "null"} }
func Ref(name string) *Value { return &Value{Kind: Variable, Raw: name} }
func Int(n int) *Value       { return &Value{Kind: IntValue, Raw: fmt.Sprint(n)} }
func Bool(b bool) *Value     { return &Value{Kind: BooleanValue, Raw: fmt.Sprint(b)} }
