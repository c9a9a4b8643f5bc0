package executable

// OutputDescriptor describes a side-channel artifact produced by a call,
// such as captured process output, for a downstream pipeline stage.
type OutputDescriptor struct {
	Kind       string `json:"kind"`
	Source     string `json:"source"`
	Command    string `json:"command,omitempty"`
	Content    string `json:"content"`
	PipelineID string `json:"pipelineId,omitempty"`
}

// Bundle is the argument resolver's output. Values and Runtime are parallel
// views keyed by parameter name: Values holds the interpolated string form,
// Runtime the typed value. A runtime nil stays nil in Runtime; it is never
// the string "null".
type Bundle struct {
	Values      map[string]string
	Runtime     map[string]any
	Descriptors map[string][]OutputDescriptor
	// Positional keeps argument order for builtins, including arguments past
	// the declared parameters.
	Positional []any
}

// NewBundle returns an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{
		Values:      map[string]string{},
		Runtime:     map[string]any{},
		Descriptors: map[string][]OutputDescriptor{},
	}
}

// Lookup returns the typed value bound to name and whether it is bound.
func (b *Bundle) Lookup(name string) (any, bool) {
	if b == nil {
		return nil, false
	}
	v, ok := b.Runtime[name]
	return v, ok
}
