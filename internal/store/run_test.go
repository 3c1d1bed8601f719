package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/domino/internal/ir"
)

func TestCreateRun_FillsDefaults(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, Run{Program: "counter", ProgramHash: "abc"})
	require.NoError(t, err)

	assert.Len(t, run.ID, 36)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, ir.EngineVersion, run.EngineVersion)
	assert.Equal(t, ir.JournalVersion, run.JournalVersion)
	assert.False(t, run.StartedAt.IsZero())

	got, err := s.ReadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "counter", got.Program)
	assert.Equal(t, "abc", got.ProgramHash)
	assert.True(t, got.FinishedAt.IsZero())
	assert.Equal(t, int64(0), got.Events)
}

func TestCreateRun_DuplicateID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, Run{ID: "run-1", Program: "p"})
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, Run{ID: "run-1", Program: "p"})
	assert.Error(t, err)
}

func TestFinishRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, Run{Program: "p"})
	require.NoError(t, err)

	at := time.Unix(1700000000, 42)
	require.NoError(t, s.FinishRun(ctx, run.ID, StatusCompleted, at))

	got, err := s.ReadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, at.Equal(got.FinishedAt))

	assert.ErrorIs(t, s.FinishRun(ctx, "missing", StatusFailed, at), ErrNotFound)
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		_, err := s.CreateRun(ctx, Run{ID: id, Program: "p", StartedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	j := s.Journal("b")
	require.NoError(t, j.Append(1, "f", ir.NewEvent("x"), false))
	require.NoError(t, j.Append(2, "f", ir.NewEvent("y"), false))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})
	assert.Equal(t, int64(2), runs[1].Events)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)
}

func TestListRuns_Empty(t *testing.T) {
	s := createTestStore(t)
	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}
