package protoreg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/mlld-lang/mlld-sub001/internal/protoreg"
)

func TestBuild_Descriptors(t *testing.T) {
	reg, err := protoreg.Build()
	require.NoError(t, err)

	assert.Equal(t, protoreflect.FullName("mlld.runtime.v1.Runtime"), reg.Service().FullName())

	code := reg.RunCode()
	require.NotNil(t, code)
	assert.Equal(t, protoreflect.FullName("mlld.runtime.v1.RunCodeRequest"), code.Input().FullName())
	assert.NotNil(t, code.Input().Fields().ByName("args_json"))

	assert.True(t, code.IsStreamingServer())
	assert.False(t, code.IsStreamingClient())
	effect := code.Output().Fields().ByName("effect")
	require.NotNil(t, effect)
	assert.Equal(t, protoreflect.FullName("mlld.runtime.v1.Effect"), effect.Message().FullName())
	assert.Equal(t, protoreflect.BoolKind, code.Output().Fields().ByName("done").Kind())

	prompt := reg.RunPrompt()
	require.NotNil(t, prompt)
	assert.NotNil(t, prompt.Input().Fields().ByName("config_json"))
	assert.True(t, prompt.IsStreamingServer())
	assert.Nil(t, reg.Method("Missing"))
}

func TestDefault_IsShared(t *testing.T) {
	a, err := protoreg.Default()
	require.NoError(t, err)
	b, err := protoreg.Default()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRender(t *testing.T) {
	reg, err := protoreg.Build()
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, protoreg.Render(reg, out))

	b, err := os.ReadFile(filepath.Join(out, protoreg.FilePath))
	require.NoError(t, err)
	assert.Contains(t, string(b), "package mlld.runtime.v1;")
	assert.Contains(t, string(b), "rpc RunCode")
	assert.Contains(t, string(b), "stream RunCodeResponse")
	assert.Contains(t, string(b), "Effect effect = 1")
}
