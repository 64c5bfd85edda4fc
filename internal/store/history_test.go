package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procstream/internal/extract"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPlan(steps ...int) *extract.Plan {
	p := &extract.Plan{}
	for i, n := range steps {
		proc := extract.Process{ProcessID: extract.ID(string(rune('1' + i))), Name: "proc", Steps: []extract.Step{}}
		for j := 0; j < n; j++ {
			proc.Steps = append(proc.Steps, extract.Step{StepID: extract.ID(string(rune('a' + j))), Action: "act"})
		}
		p.Processes = append(p.Processes, proc)
	}
	return p
}

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.FileExists(t, s.Path())
}

func TestSaveAndLatest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	_, err := s.Save(ctx, Record{RequestID: "r1", Task: "shaft", Plan: testPlan(1), Source: "scan", Decision: "use_as_is", CreatedAt: base})
	require.NoError(t, err)
	saved, err := s.Save(ctx, Record{RequestID: "r2", Task: "shaft", Plan: testPlan(2, 1), Source: "refetch", Decision: "refetch", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, 2, saved.Processes)
	assert.Equal(t, 3, saved.Steps)

	got, err := s.Latest(ctx, "shaft")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.RequestID)
	assert.Equal(t, "refetch", got.Source)
	assert.True(t, got.CreatedAt.Equal(base.Add(time.Minute)))
	if diff := cmp.Diff(testPlan(2, 1), got.Plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Latest(ctx, "gear")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_RequiresPlan(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Save(context.Background(), Record{Task: "empty"})
	assert.Error(t, err)
}

func TestListAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, rec := range []Record{
		{Task: "a", Source: "scan", Decision: "use_as_is"},
		{Task: "b", Source: "sentinel", Decision: "use_as_is", Cached: true},
		{Task: "c", Source: "refetch", Decision: "refetch"},
	} {
		rec.Plan = testPlan(1)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := s.Save(ctx, rec)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].Task, all[1].Task, all[2].Task})
	assert.True(t, all[1].Cached)

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Cached: 1, Refetched: 1}, st)
}

func TestStats_Empty(t *testing.T) {
	t.Parallel()

	st, err := newTestStore(t).Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st)
}

func TestRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, task := range []string{"shaft", "gear", "shaft", "shaft"} {
		_, err := s.Save(ctx, Record{RequestID: string(rune('a' + i)), Task: task, Plan: testPlan(i + 1),
			Source: "scan", Decision: "use_as_is", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	recs, err := s.Recent(ctx, "shaft", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "d", recs[0].RequestID)
	assert.Equal(t, "c", recs[1].RequestID)

	recs, err = s.Recent(ctx, "bolt", 2)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
