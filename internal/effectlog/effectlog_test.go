package effectlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	effects "github.com/mlld-lang/mlld-sub001/internal/effects"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "effects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Pattern: Result comparison
func TestStore_EmitThenQuery_PreservesOrder(t *testing.T) {
	s := openTemp(t)
	sink := effects.Multi(s)
	for i, text := range []string{"one", "two", "three"} {
		sink.Emit(effects.Effect{Kind: effects.KindDisplay, Text: text, Source: "loop", PipelineID: "p1", Time: time.Unix(int64(100+i), 0)})
	}
	s.Emit(effects.Effect{Kind: effects.KindStdout, Text: "other", PipelineID: "p2"})

	got, err := s.Query(context.Background(), Filter{PipelineID: "p1"})
	require.NoError(t, err)
	want := []effects.Effect{
		{Kind: effects.KindDisplay, Text: "one", Source: "loop", PipelineID: "p1", Time: time.Unix(100, 0)},
		{Kind: effects.KindDisplay, Text: "two", Source: "loop", PipelineID: "p1", Time: time.Unix(101, 0)},
		{Kind: effects.KindDisplay, Text: "three", Source: "loop", PipelineID: "p1", Time: time.Unix(102, 0)},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Fatalf("effects mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_QueryFilters(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, effects.Effect{Kind: effects.KindStdout, Text: "a", Source: "ls"}))
	require.NoError(t, s.Append(ctx, effects.Effect{Kind: effects.KindDisplay, Text: "b", Source: "show"}))
	require.NoError(t, s.Append(ctx, effects.Effect{Kind: effects.KindStdout, Text: "c", Source: "ls"}))

	got, err := s.Query(ctx, Filter{Kind: effects.KindStdout, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Text)

	got, err = s.Query(ctx, Filter{Source: "show"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].Text)

	got, err = s.Query(ctx, Filter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStore_Prune(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, effects.Effect{Kind: effects.KindLog, Text: "old", Time: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, s.Append(ctx, effects.Effect{Kind: effects.KindLog, Text: "new"}))

	n, err := s.Prune(ctx, time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "new", got[0].Text)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	s.Emit(effects.Effect{Kind: effects.KindDisplay, Text: "x"})
	got, err := s.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
