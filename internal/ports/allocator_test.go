package ports

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neopod/neopod/internal/logging"
	"github.com/neopod/neopod/models"
)

// High bases keep the tests away from ports real services listen on.
func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	return NewAllocator(t.TempDir(), 27687, 27474, logging.Nop())
}

func TestAllocate(t *testing.T) {
	a := newTestAllocator(t)

	alloc, err := a.Allocate()
	require.NoError(t, err)

	assert.Equal(t, 27687, alloc.BoltPort)
	assert.Equal(t, 27474, alloc.HTTPPort)
	assert.NotEmpty(t, alloc.ID)
	assert.True(t, alloc.Temporary())
}

func TestAllocateSequentialPairs(t *testing.T) {
	a := newTestAllocator(t)

	first, err := a.Allocate()
	require.NoError(t, err)
	second, err := a.Allocate()
	require.NoError(t, err)

	assert.NotEqual(t, first.BoltPort, second.BoltPort)
	assert.NotEqual(t, first.HTTPPort, second.HTTPPort)
	assert.Equal(t, first.BoltPort+1, second.BoltPort)
	assert.Equal(t, first.HTTPPort+1, second.HTTPPort)
}

func TestAllocateConcurrentNoDuplicates(t *testing.T) {
	a := newTestAllocator(t)

	const n = 10
	results := make([]*models.PortAllocation, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Allocate()
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i].BoltPort], "duplicate bolt port %d", results[i].BoltPort)
		assert.False(t, seen[results[i].HTTPPort], "duplicate http port %d", results[i].HTTPPort)
		seen[results[i].BoltPort] = true
		seen[results[i].HTTPPort] = true
	}
}

func TestCommitAndRelease(t *testing.T) {
	a := newTestAllocator(t)

	alloc, err := a.Allocate()
	require.NoError(t, err)

	require.NoError(t, a.Commit(alloc, "container-123"))
	assert.Equal(t, "container-123", alloc.ContainerID)

	// Committed entry is keyed by container ID
	allocs, err := a.Allocations()
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "container-123", allocs[0].ContainerID)
	assert.False(t, allocs[0].Temporary())

	require.NoError(t, a.Release("container-123"))
	allocs, err = a.Allocations()
	require.NoError(t, err)
	assert.Empty(t, allocs)
}

func TestCommitUnknownAllocation(t *testing.T) {
	a := newTestAllocator(t)

	err := a.Commit(&models.PortAllocation{ID: "ghost"}, "container-123")
	assert.Error(t, err)
}

func TestReleaseUnknownIsNoop(t *testing.T) {
	a := newTestAllocator(t)
	assert.NoError(t, a.Release("never-allocated"))
}

func TestTableSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	a := NewAllocator(dir, 27687, 27474, logging.Nop())
	alloc, err := a.Allocate()
	require.NoError(t, err)
	require.NoError(t, a.Commit(alloc, "container-abc"))

	// A fresh allocator over the same data dir must see the reservation
	// and allocate around it.
	b := NewAllocator(dir, 27687, 27474, logging.Nop())
	next, err := b.Allocate()
	require.NoError(t, err)
	assert.NotEqual(t, alloc.BoltPort, next.BoltPort)
	assert.NotEqual(t, alloc.HTTPPort, next.HTTPPort)
}

func TestPruneExpiredTemporaries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, allocationsFile)

	stale := map[string]*models.PortAllocation{
		"old-temp": {
			ID:          "old-temp",
			BoltPort:    27687,
			HTTPPort:    27474,
			AllocatedAt: time.Now().Add(-2 * time.Hour),
		},
		"committed": {
			ID:          "committed",
			BoltPort:    27688,
			HTTPPort:    27475,
			AllocatedAt: time.Now().Add(-48 * time.Hour),
			ContainerID: "container-xyz",
		},
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	a := NewAllocator(dir, 27687, 27474, logging.Nop())
	alloc, err := a.Allocate()
	require.NoError(t, err)

	// The expired temporary's ports are free again; the committed entry
	// is untouched no matter how old it is.
	assert.Equal(t, 27687, alloc.BoltPort)
	assert.Equal(t, 27474, alloc.HTTPPort)

	remaining, err := a.Allocations()
	require.NoError(t, err)

	var kept bool
	for _, got := range remaining {
		if got.ContainerID == "container-xyz" {
			kept = true
		}
	}
	assert.True(t, kept, "committed allocation must survive pruning")
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()

	a := NewAllocator(dir, 27687, 27474, logging.Nop())
	_, err := a.Allocate()
	require.NoError(t, err)

	// No temp file left behind after a successful save
	_, err = os.Stat(filepath.Join(dir, allocationsFile+".tmp"))
	assert.True(t, os.IsNotExist(err))

	// The table on disk is valid JSON
	data, err := os.ReadFile(filepath.Join(dir, allocationsFile))
	require.NoError(t, err)
	var table map[string]*models.PortAllocation
	require.NoError(t, json.Unmarshal(data, &table))
	assert.Len(t, table, 1)
}
