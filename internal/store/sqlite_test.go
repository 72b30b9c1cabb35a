package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "addresses.csv", 1200)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "addresses.csv", got.Input)
	assert.EqualValues(t, 1200, got.TotalRows)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, st.FinishRun(ctx, run.ID, RunStatusComplete, 1200))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, got.Status)
	assert.EqualValues(t, 1200, got.Written)
	require.NotNil(t, got.FinishedAt)
}

func TestSQLite_FinishRun_Unknown(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.FinishRun(context.Background(), "no-such-run", RunStatusFailed, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_GetRun_Unknown(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
}

func TestSQLite_Aliases(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "addresses.csv", 3)
	require.NoError(t, err)

	want := map[string]string{"C": "C2", "X": "X9"}
	require.NoError(t, st.RecordAliases(ctx, run.ID, want))

	got, err := st.ListAliases(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLite_Aliases_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "addresses.csv", 0)
	require.NoError(t, err)
	require.NoError(t, st.RecordAliases(ctx, run.ID, nil))

	got, err := st.ListAliases(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "first.csv", 1)
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "second.csv", 2)
	require.NoError(t, err)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	runs, err = st.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLite_Unresolved(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "addresses.csv", 2)
	require.NoError(t, err)
	require.NoError(t, st.RecordUnresolved(ctx, run.ID, []string{"b", "a"}))

	got, err := st.ListUnresolved(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}
