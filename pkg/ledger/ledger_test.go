package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	l := Load(filepath.Join(t.TempDir(), "ledger.json"), nil)
	assert.Equal(t, 0, l.Len())
	assert.False(t, l.IsProcessed("r1"))
	assert.True(t, l.LastRun().IsZero())
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := Load(path, nil)
	assert.Equal(t, 0, l.Len())

	// The next mark replaces the corrupt file with a valid one.
	require.NoError(t, l.MarkProcessed("r1"))
	reloaded := Load(path, nil)
	assert.True(t, reloaded.IsProcessed("r1"))
}

func TestMarkProcessedIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := Load(path, nil)

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return clock }
	require.NoError(t, l.MarkProcessed("r1"))

	clock = clock.Add(time.Hour)
	require.NoError(t, l.MarkProcessed("r1"))

	assert.Equal(t, []string{"r1"}, l.ListProcessed())
	assert.Equal(t, clock, l.LastRun())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var f fileFormat
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, []string{"r1"}, f.ProcessedIDs)
	require.NotNil(t, f.LastRun)
	assert.True(t, f.LastRun.Equal(clock))
	// The entry keeps its first processing time.
	assert.True(t, f.ProcessedAt["r1"].Equal(clock.Add(-time.Hour)))
}

func TestPersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := Load(path, nil)
	require.NoError(t, l.MarkProcessed("2"))
	require.NoError(t, l.MarkProcessed("10"))

	reloaded := Load(path, nil)
	assert.True(t, reloaded.IsProcessed("2"))
	assert.True(t, reloaded.IsProcessed("10"))
	assert.False(t, reloaded.IsProcessed("3"))
	assert.Equal(t, []string{"10", "2"}, reloaded.ListProcessed())
	assert.False(t, reloaded.LastRun().IsZero())
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := Load(path, nil)
	require.NoError(t, l.MarkProcessed("r1"))
	require.NoError(t, l.Reset())
	assert.Equal(t, 0, l.Len())

	reloaded := Load(path, nil)
	assert.Equal(t, 0, reloaded.Len())
}

func TestMarkProcessedRollsBackOnFlushFailure(t *testing.T) {
	// The parent directory does not exist, so every flush fails.
	path := filepath.Join(t.TempDir(), "missing", "ledger.json")
	l := Load(path, nil)

	err := l.MarkProcessed("r1")
	require.Error(t, err)
	assert.False(t, l.IsProcessed("r1"))
	assert.True(t, l.LastRun().IsZero())
}

func TestMarkProcessedRejectsEmptyID(t *testing.T) {
	l := Load("", nil)
	assert.Error(t, l.MarkProcessed(""))
}

func TestInMemoryLedger(t *testing.T) {
	l := Load("", nil)
	require.NoError(t, l.MarkProcessed("r1"))
	assert.True(t, l.IsProcessed("r1"))
	assert.Equal(t, map[string]bool{"r1": true}, l.ProcessedSet())
}

func TestConcurrentMarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := Load(path, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.MarkProcessed(string(rune('a'+i%5))))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, l.Len())
	assert.Equal(t, 5, Load(path, nil).Len())
}
