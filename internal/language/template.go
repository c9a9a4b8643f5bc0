package language

import (
	"fmt"
	"strings"
)

// ParseTemplate parses template text into nodes.
//
//	${name} or @name      variable reference, dotted fields allowed
//	REF? `body`           body rendered only when REF is truthy
//	\x                    literal x
func ParseTemplate(source string) ([]Node, error) {
	p := &templateParser{src: source}
	nodes, err := p.parse(false)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// MustParseTemplate is ParseTemplate for static templates; it panics on error.
func MustParseTemplate(source string) []Node {
	nodes, err := ParseTemplate(source)
	if err != nil {
		panic(err)
	}
	return nodes
}

type templateParser struct {
	src string
	pos int
}

func (p *templateParser) parse(inBody bool) ([]Node, error) {
	var nodes []Node
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, &Text{Value: text.String()})
			text.Reset()
		}
	}

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			text.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == '`' && inBody:
			p.pos++
			flush()
			return nodes, nil
		case c == '$' && strings.HasPrefix(p.src[p.pos:], "${"):
			end := strings.IndexByte(p.src[p.pos:], '}')
			if end < 0 {
				return nil, fmt.Errorf("template: unterminated ${ at offset %d", p.pos)
			}
			ref, err := parseRef(p.src[p.pos+2 : p.pos+end])
			if err != nil {
				return nil, err
			}
			p.pos += end + 1
			flush()
			node, err := p.maybeConditional(ref)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		case c == '@' && p.pos+1 < len(p.src) && isNameStart(p.src[p.pos+1]):
			start := p.pos + 1
			end := start
			for end < len(p.src) && (isNameChar(p.src[end]) || (p.src[end] == '.' && end+1 < len(p.src) && isNameStart(p.src[end+1]))) {
				end++
			}
			ref, err := parseRef(p.src[start:end])
			if err != nil {
				return nil, err
			}
			p.pos = end
			flush()
			node, err := p.maybeConditional(ref)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		default:
			text.WriteByte(c)
			p.pos++
		}
	}
	if inBody {
		return nil, fmt.Errorf("template: unterminated conditional body")
	}
	flush()
	return nodes, nil
}

// maybeConditional consumes a `? \`body\`` suffix after a reference.
func (p *templateParser) maybeConditional(ref *VarRef) (Node, error) {
	if p.pos >= len(p.src) || p.src[p.pos] != '?' {
		return ref, nil
	}
	i := p.pos + 1
	for i < len(p.src) && (p.src[i] == ' ' || p.src[i] == '\t') {
		i++
	}
	if i >= len(p.src) || p.src[i] != '`' {
		return ref, nil
	}
	p.pos = i + 1
	body, err := p.parse(true)
	if err != nil {
		return nil, err
	}
	return &Conditional{Cond: ref, Body: body}, nil
}

// ParseRef parses a dotted reference such as "user.name".
func ParseRef(path string) (*VarRef, error) { return parseRef(path) }

func parseRef(path string) (*VarRef, error) {
	parts := strings.Split(strings.TrimSpace(path), ".")
	for _, part := range parts {
		if !isName(part) {
			return nil, fmt.Errorf("template: invalid reference %q", path)
		}
	}
	return &VarRef{Name: parts[0], Fields: parts[1:]}, nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
