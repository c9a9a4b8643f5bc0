package executable

import (
	"context"
	"strings"
)

// TransformerFunc implements a builtin transformer. args are the positional
// runtime values of the call.
type TransformerFunc func(ctx context.Context, call *Call, args []any) (any, error)

// Transformer is the builtin variant of a Variable.
type Transformer struct {
	Name string
	// Keychain marks transformers that need a service/account pair as their
	// first argument.
	Keychain bool
	// Shell marks transformers that spawn processes; their command lines go
	// through the security gate.
	Shell bool
	Impl  TransformerFunc
}

// Call gives a transformer access to the surrounding dispatch.
type Call struct {
	Name       string
	PipelineID string
	// Emit delivers an effect to the live sink.
	Emit func(kind, text string)
	// Exec runs a command line through the security gate and the process
	// executor. It is nil for transformers not marked Shell.
	Exec func(ctx context.Context, commandLine string) (string, error)
}

// NewBuiltin returns a Variable for a builtin transformer.
func NewBuiltin(t *Transformer) *Variable {
	v := NewVariable(t.Name, &Data{Header: Header{SourceDirective: "builtin"}})
	v.Builtin = t
	return v
}

// ServiceAccount extracts a keychain service/account pair. It accepts an
// object with "service" and "account" keys, a "service/account" string or a
// two-element list. Both parts must be non-empty strings.
func ServiceAccount(v any) (service, account string, ok bool) {
	switch v := v.(type) {
	case map[string]any:
		service, _ = v["service"].(string)
		account, _ = v["account"].(string)
	case string:
		service, account, _ = strings.Cut(v, "/")
	case []any:
		if len(v) != 2 {
			return "", "", false
		}
		service, _ = v[0].(string)
		account, _ = v[1].(string)
	case []string:
		if len(v) != 2 {
			return "", "", false
		}
		service, account = v[0], v[1]
	}
	if service == "" || account == "" {
		return "", "", false
	}
	return service, account, true
}
