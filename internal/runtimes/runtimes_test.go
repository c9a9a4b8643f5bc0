package runtimes

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
	process "github.com/mlld-lang/mlld-sub001/internal/process"
)

type recordedRun struct {
	Line  string
	Shell string
	Env   map[string]string
}

type fakeRunner struct {
	out  string
	runs []recordedRun
}

func (f *fakeRunner) Execute(ctx context.Context, commandLine string, opts process.Options) (string, error) {
	f.runs = append(f.runs, recordedRun{Line: commandLine, Shell: opts.Shell, Env: opts.Env})
	if opts.OnLine != nil {
		opts.OnLine(f.out)
	}
	return f.out + "\n", nil
}

func run(t *testing.T, host *Host, sink effects.Sink, v *executable.Variable, args ...*language.Value) (*executor.Result, error) {
	t.Helper()
	exec := executor.NewExecutor(host)
	ec := executor.NewContext(context.Background(), executor.Scope(v), sink)
	return exec.Dispatch(context.Background(), &language.Invocation{Name: v.Name, Args: args}, v.Definition, v, ec)
}

// Pattern: Calls comparison
func TestShell_ExportsParamsAndStreams(t *testing.T) {
	runner := &fakeRunner{out: "hi Ada"}
	host := NewHost(runner)
	rec := effects.NewRecorder(nil)
	def := &executable.Code{
		Header:   executable.Header{ParamNames: []string{"name"}},
		Language: "bash",
		Source:   language.MustParseTemplate(`echo "hi $name"`),
	}

	res, err := run(t, host, rec, executable.NewVariable("hello", def), language.String("Ada"))
	require.NoError(t, err)
	require.Equal(t, "hi Ada", res.Value)
	require.Equal(t, []string{"hi Ada"}, rec.Texts())

	want := []recordedRun{{Line: `echo "hi $name"`, Shell: "bash", Env: map[string]string{"name": "Ada"}}}
	if diff := cmp.Diff(want, runner.runs); diff != "" {
		t.Fatalf("runs mismatch (-want +got):\n%s", diff)
	}
}

func TestShell_PassesSecurityGate(t *testing.T) {
	runner := &fakeRunner{}
	def := &executable.Code{Language: "sh", Source: language.MustParseTemplate("rm -rf /")}

	_, err := run(t, NewHost(runner), nil, executable.NewVariable("nuke", def))
	require.True(t, errors.Is(err, executor.ErrSecurity))
	require.Empty(t, runner.runs)
}

func TestShell_RealProcess(t *testing.T) {
	host := NewHost(process.NewShell())
	def := &executable.Code{
		Header:   executable.Header{ParamNames: []string{"who"}},
		Language: "sh",
		Source:   language.MustParseTemplate(`echo a; echo "b $who"`),
	}
	rec := effects.NewRecorder(nil)
	res, err := run(t, host, rec, executable.NewVariable("two", def), language.String("c"))
	require.NoError(t, err)
	require.Equal(t, "a\nb c", res.Value)
	require.Equal(t, []string{"a", "b c"}, rec.Texts())
}

func whenDef(mode language.WhenMode, withDefault bool) *executable.Code {
	expr := &language.WhenExpr{
		Mode: mode,
		Branches: []*language.WhenBranch{
			{Cond: &language.VarRef{Name: "admin"}, Action: &language.WhenAction{
				Show:  language.MustParseTemplate("admin ${user}"),
				Value: language.MustParseTemplate("full"),
			}},
			{Cond: &language.VarRef{Name: "member"}, Action: &language.WhenAction{
				Show:  language.MustParseTemplate("member ${user}"),
				Value: language.MustParseTemplate("partial"),
			}},
		},
	}
	if withDefault {
		expr.Default = &language.WhenAction{Value: language.MustParseTemplate("none")}
	}
	return &executable.Code{
		Header:   executable.Header{ParamNames: []string{"user", "admin", "member"}},
		Language: executor.WhenLanguage,
		Expr:     expr,
	}
}

// Pattern: Result comparison
func TestWhen_Modes(t *testing.T) {
	cases := []struct {
		name      string
		mode      language.WhenMode
		admin     *language.Value
		member    *language.Value
		wantValue any
		wantShown []string
	}{
		{"first stops at first match", language.WhenFirst, language.Bool(true), language.Bool(true), "full", []string{"admin ada"}},
		{"all runs every match", language.WhenAll, language.Bool(true), language.Bool(true), "partial", []string{"admin ada", "member ada"}},
		{"default when nothing matches", language.WhenFirst, language.Null(), language.Bool(false), "none", nil},
		{"literal null string is truthy", language.WhenFirst, language.String("null"), language.Bool(false), "full", []string{"admin ada"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := effects.NewRecorder(nil)
			res, err := run(t, NewHost(&fakeRunner{}), rec, executable.NewVariable("access", whenDef(tc.mode, true)),
				language.String("ada"), tc.admin, tc.member)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.wantValue, res.Value); diff != "" {
				t.Fatalf("value mismatch (-want +got):\n%s", diff)
			}
			var shown []string
			for _, e := range rec.Effects() {
				require.Equal(t, effects.KindDisplay, e.Kind)
				shown = append(shown, e.Text)
			}
			if diff := cmp.Diff(tc.wantShown, shown); diff != "" {
				t.Fatalf("effects mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWhen_NegatedAndUnbound(t *testing.T) {
	def := &executable.Code{
		Language: executor.WhenLanguage,
		Expr: &language.WhenExpr{Branches: []*language.WhenBranch{
			{Cond: &language.VarRef{Name: "flag"}, Negate: true, Action: &language.WhenAction{Value: language.MustParseTemplate("off")}},
		}},
	}
	res, err := run(t, NewHost(&fakeRunner{}), nil, executable.NewVariable("check", def))
	require.NoError(t, err)
	require.Equal(t, "off", res.Value)
}

func TestHost_Errors(t *testing.T) {
	host := NewHost(&fakeRunner{})

	_, err := run(t, host, nil, executable.NewVariable("py", &executable.Code{Language: "python"}))
	require.EqualError(t, err, "No runtime registered for language: python")

	_, err = run(t, host, nil, executable.NewVariable("ask", &executable.Prose{Prompt: language.MustParseTemplate("hi")}))
	require.True(t, errors.Is(err, ErrNoPromptBackend))
}

func TestRegistry_Languages(t *testing.T) {
	host := NewHost(&fakeRunner{})
	host.Code.Register(CodeRuntimeFunc(func(ctx context.Context, req *executor.CodeRequest) (any, error) {
		return req.Source, nil
	}), "echo", "cat")
	require.Equal(t, []string{"bash", "cat", "echo", "sh", "when"}, host.Code.Languages())

	res, err := run(t, host, nil, executable.NewVariable("e", &executable.Code{Language: "echo", Source: language.MustParseTemplate("x")}))
	require.NoError(t, err)
	require.Equal(t, "x", res.Value)
}
