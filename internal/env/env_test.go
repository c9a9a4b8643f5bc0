package env

import (
	"testing"

	"github.com/stretchr/testify/require"

	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
)

func TestEnvironment_ChildScopes(t *testing.T) {
	root := New()
	root.Set("name", "Ada")
	root.Set("title", nil)

	child := root.Child()
	child.Set("name", "Grace")

	v, ok := child.Get("name")
	require.True(t, ok)
	require.Equal(t, "Grace", v)

	v, ok = root.Get("name")
	require.True(t, ok)
	require.Equal(t, "Ada", v)

	v, ok = child.Get("title")
	require.True(t, ok, "nil is a binding")
	require.Nil(t, v)

	_, ok = child.Get("missing")
	require.False(t, ok)

	require.Equal(t, []string{"name", "title"}, child.Names())
	require.Same(t, root, child.Parent())
}

func TestEnvironment_Executables(t *testing.T) {
	root := New()
	def := &executable.Template{Header: executable.Header{ParamNames: []string{"x"}}}
	root.Define(executable.NewVariable("echo", def))

	v, ok := root.Child().Executable("echo")
	require.True(t, ok)
	require.Equal(t, "echo", v.Name)
	require.Equal(t, executable.KindTemplate, v.Definition.Kind())

	_, ok = root.Executable("nope")
	require.False(t, ok)
}
