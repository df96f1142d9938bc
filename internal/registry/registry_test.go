package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(TrainingRun{
			ModelID:    "model-" + string(rune('a'+i)),
			Family:     "random-forest",
			OutputKind: "regression",
			Rows:       100 + i,
			Cols:       5,
			TrainTime:  time.Duration(i) * time.Second,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.Recent(3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "model-e", runs[0].ModelID, "newest first")
	assert.Equal(t, "model-d", runs[1].ModelID)
	assert.Equal(t, 104, runs[0].Rows)
}

func TestSince(t *testing.T) {
	s := openStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Record(TrainingRun{
			ModelID:   "m",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.Since(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRecordFillsTimestamp(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Record(TrainingRun{ModelID: "m", OutputKind: "classification", ClassCount: 3}))

	runs, err := s.Recent(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].CreatedAt.IsZero())
	assert.Equal(t, 3, runs[0].ClassCount)
}

func TestReopenKeepsRuns(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Record(TrainingRun{ModelID: "persisted"}))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	runs, err := s2.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "persisted", runs[0].ModelID)
}
