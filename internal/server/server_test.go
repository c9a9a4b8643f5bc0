package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	builtin "github.com/mlld-lang/mlld-sub001/internal/builtin"
	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
	env "github.com/mlld-lang/mlld-sub001/internal/env"
	executable "github.com/mlld-lang/mlld-sub001/internal/executable"
	executor "github.com/mlld-lang/mlld-sub001/internal/executor"
	language "github.com/mlld-lang/mlld-sub001/internal/language"
)

type line struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func testScope() *env.Environment {
	scope := env.New()
	builtin.Define(scope)
	hdr := func(params ...string) executable.Header {
		return executable.Header{ParamNames: params, SourceDirective: "exe"}
	}
	scope.Define(executable.NewVariable("greet", &executable.Template{Header: hdr("name"), Nodes: language.MustParseTemplate("hi ${name}")}))
	scope.Define(executable.NewVariable("wipe", &executable.Command{Header: hdr(), Nodes: language.MustParseTemplate("rm -rf /")}))
	scope.Define(executable.NewVariable("slow", &executable.Code{Header: hdr(), Language: "js"}))
	return scope
}

func newTestHandler(t *testing.T, rt *executor.MockRuntime, opts ...Option) *Handler {
	t.Helper()
	return New(executor.NewExecutor(rt), testScope(), opts...)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func readLines(t *testing.T, body []byte) []line {
	t.Helper()
	var out []line
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var l line
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	return out
}

func types(lines []line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Type
	}
	return out
}

// Pattern: Result comparison
func TestDispatch_EffectsThenResult(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime())
	w := post(t, h, `{"invocation": "@show(\"hello\", $who)", "variables": {"who": "Ada"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	rid := w.Header().Get(PipelineHeader)
	require.NotEmpty(t, rid)

	lines := readLines(t, w.Body.Bytes())
	if diff := cmp.Diff([]string{TypeEffect, TypeResult}, types(lines)); diff != "" {
		t.Fatalf("line types mismatch (-want +got):\n%s", diff)
	}
	var eff effects.Effect
	require.NoError(t, json.Unmarshal(lines[0].Payload, &eff))
	assert.Equal(t, "hello Ada", eff.Text)
	assert.Equal(t, effects.KindDisplay, eff.Kind)
	assert.Equal(t, rid, eff.PipelineID)

	var res ResultPayload
	require.NoError(t, json.Unmarshal(lines[1].Payload, &res))
	assert.Equal(t, "hello Ada", res.Value)
	assert.Equal(t, rid, res.PipelineID)
}

func TestDispatch_BlockedCommand(t *testing.T) {
	rt := executor.NewMockRuntime()
	h := newTestHandler(t, rt)
	w := post(t, h, `{"invocation": "@wipe()"}`)
	require.Equal(t, http.StatusOK, w.Code)

	lines := readLines(t, w.Body.Bytes())
	require.Equal(t, []string{TypeError}, types(lines))
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(lines[0].Payload, &p))
	assert.Equal(t, "security", p.Kind)
	assert.True(t, strings.HasPrefix(p.Message, "Security: Exec command blocked - "), p.Message)
	assert.Zero(t, rt.CountCalls(executor.CallKindCommand))
}

func TestDispatch_ItemsAndPipeline(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime())

	lines := readLines(t, post(t, h, `{"invocation": "@greet", "items": ["a", "b"]}`).Body.Bytes())
	require.Len(t, lines, 1)
	var res ResultPayload
	require.NoError(t, json.Unmarshal(lines[0].Payload, &res))
	assert.Equal(t, []any{"hi a", "hi b"}, res.Value)

	lines = readLines(t, post(t, h, `{"pipeline": ["@greet(\"x\")", "@upper"]}`).Body.Bytes())
	require.Len(t, lines, 1)
	require.NoError(t, json.Unmarshal(lines[0].Payload, &res))
	assert.Equal(t, "HI X", res.Value)
}

func TestDispatch_BadRequests(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime(), WithMaxBodyBytes(64))
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing invocation", `{}`, http.StatusBadRequest},
		{"both forms", `{"invocation": "@a", "pipeline": ["@b"]}`, http.StatusBadRequest},
		{"unparsable", `{"invocation": "@a(("}`, http.StatusBadRequest},
		{"too large", `{"invocation": "` + strings.Repeat("x", 80) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := post(t, h, tc.body)
			require.Equal(t, tc.status, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/dispatch", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDispatch_StreamsBeforeCompletion(t *testing.T) {
	rt := executor.NewMockRuntime()
	release := make(chan struct{})
	rt.SetCode("js", func(ctx context.Context, req *executor.CodeRequest) (any, error) {
		req.Emit(string(effects.KindDisplay), "first")
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return "done", nil
	})
	srv := httptest.NewServer(newTestHandler(t, rt))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/dispatch", "application/json", strings.NewReader(`{"invocation": "@slow()"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	first, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var l line
	require.NoError(t, json.Unmarshal(first, &l))
	require.Equal(t, TypeEffect, l.Type)

	close(release)
	rest, err := r.ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(rest, &l))
	require.Equal(t, TypeResult, l.Type)
}

func TestForwardedHeaders(t *testing.T) {
	rt := executor.NewMockRuntime()
	var captured metadata.MD
	rt.SetCode("js", func(ctx context.Context, req *executor.CodeRequest) (any, error) {
		captured, _ = metadata.FromOutgoingContext(ctx)
		return "ok", nil
	})
	h := newTestHandler(t, rt, WithMetadataHeaders("X-Test"))

	req := httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(`{"invocation": "@slow()"}`))
	req.Header.Set("X-Test", "abc")
	req.Header.Set("X-Other", "nope")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, []string{"abc"}, captured.Get("x-test"))
	assert.Empty(t, captured.Get("x-other"))
}

func TestSinkOption(t *testing.T) {
	rec := effects.NewRecorder(nil)
	h := newTestHandler(t, executor.NewMockRuntime(), WithSink(rec))
	post(t, h, `{"invocation": "@show(\"logged\")"}`)
	assert.Equal(t, []string{"logged"}, rec.Texts())
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime(), WithCORS("*"))
	req := httptest.NewRequest(http.MethodOptions, "/dispatch", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestNotFound(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebSocket_PingAndDispatch(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, executor.NewMockRuntime()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(Message{Type: TypePing}))
	var l line
	require.NoError(t, conn.ReadJSON(&l))
	require.Equal(t, TypePong, l.Type)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeDispatch, Payload: DispatchRequest{Invocation: `@show("a")`}}))
	var got []string
	for len(got) < 2 {
		require.NoError(t, conn.ReadJSON(&l))
		got = append(got, l.Type)
	}
	if diff := cmp.Diff([]string{TypeEffect, TypeResult}, got); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
	require.NoError(t, conn.ReadJSON(&l))
	require.Equal(t, TypeError, l.Type)
}

func TestWithoutPolicy(t *testing.T) {
	rt := executor.NewMockRuntime()
	h := newTestHandler(t, rt, WithoutPolicy())
	lines := readLines(t, post(t, h, `{"invocation": "@wipe()"}`).Body.Bytes())
	require.Equal(t, []string{TypeResult}, types(lines))
	assert.Equal(t, 1, rt.CountCalls(executor.CallKindCommand))
}
