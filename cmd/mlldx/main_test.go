package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	effectlog "github.com/mlld-lang/mlld-sub001/internal/effectlog"
	protoreg "github.com/mlld-lang/mlld-sub001/internal/protoreg"
)

const testManifest = `
variables:
  who: Ada
executables:
  greet:
    kind: template
    params: [name]
    template: "hi ${name}"
  echo:
    kind: command
    params: [msg]
    command: "echo ${msg}"
  wipe:
    kind: command
    command: "rm -rf /"
  announce:
    kind: code
    language: when
    params: [loud]
    when:
      branches:
        - if: loud
          show: "LOUD ${who}"
          value: "shouted"
      default:
        value: "quiet"
`

// workspace writes a manifest and an isolated config and returns the
// manifest path.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "mlldx.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[log]\nlevel = \"error\"\n"), 0o600))
	t.Setenv("MLLDX_CONFIG", cfg)
	m := filepath.Join(dir, "mlld.yaml")
	require.NoError(t, os.WriteFile(m, []byte(testManifest), 0o600))
	return m
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mlldx dev\n", out)
}

func TestRun_Template(t *testing.T) {
	m := workspace(t)
	out, err := execute(t, "run", "-m", m, `@greet("Grace")`)
	require.NoError(t, err)
	assert.Equal(t, "hi Grace\n", out)
}

func TestRun_Pipeline(t *testing.T) {
	m := workspace(t)
	out, err := execute(t, "run", "-m", m, `@greet($who)`, "@upper")
	require.NoError(t, err)
	assert.Equal(t, "HI ADA\n", out)
}

func TestRun_EffectBeforeResult(t *testing.T) {
	m := workspace(t)
	out, err := execute(t, "run", "-m", m, `@announce(true)`)
	require.NoError(t, err)
	assert.Contains(t, out, "LOUD Ada\n")
	assert.Less(t, bytes.Index([]byte(out), []byte("LOUD Ada")), bytes.Index([]byte(out), []byte("shouted")))
}

func TestRun_Command(t *testing.T) {
	m := workspace(t)
	out, err := execute(t, "run", "-m", m, `@echo("hello")`)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestRun_BlockedCommand(t *testing.T) {
	m := workspace(t)
	_, err := execute(t, "run", "-m", m, "@wipe()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Security: Exec command blocked - ")
}

func TestRun_Errors(t *testing.T) {
	m := workspace(t)
	_, err := execute(t, "run", "-m", m, "@missing()")
	require.EqualError(t, err, "Command not found: missing")

	_, err = execute(t, "run", "-m", filepath.Join(t.TempDir(), "absent.yaml"), "@greet")
	require.Error(t, err)

	_, err = execute(t, "run", "-m", m, "@greet((")
	require.Error(t, err)
}

func TestEach(t *testing.T) {
	m := workspace(t)
	out, err := execute(t, "each", "-m", m, "@greet", "--items", `["a", "b"]`)
	require.NoError(t, err)
	var got []string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"hi a", "hi b"}, got)

	_, err = execute(t, "each", "-m", m, "@greet", "--items", `{"a": 1}`)
	require.Error(t, err)
}

func TestRun_EffectLog(t *testing.T) {
	m := workspace(t)
	db := filepath.Join(t.TempDir(), "effects.db")
	_, err := execute(t, "run", "-m", m, "--effect-log", db, `@show("logged")`)
	require.NoError(t, err)

	store, err := effectlog.Open(db)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Query(context.Background(), effectlog.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "logged", got[0].Text)
	assert.NotEmpty(t, got[0].PipelineID)
}

func TestProto(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "proto", "--out", dir)
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, protoreg.FilePath))
	require.NoError(t, err)
	assert.Contains(t, string(b), "service Runtime")

	_, err = execute(t, "proto")
	require.Error(t, err)
}
