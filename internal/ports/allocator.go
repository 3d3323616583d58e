// Package ports tracks host port reservations for database containers.
//
// Reservations live in a JSON table under the manager's data directory so
// they survive process restarts. The table is reloaded before every
// allocation so separate processes see each other's reservations; there is
// no file locking, so two processes allocating at the same instant can still
// race. The OS-level bind probe narrows that window but does not close it.
package ports

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neopod/neopod/internal/logging"
	"github.com/neopod/neopod/models"
)

const (
	allocationsFile = "port-allocations.json"

	// Temporary reservations not yet bound to a container expire after
	// this long and are pruned before new allocations are computed.
	temporaryTTL = time.Hour

	// How far above each base port the scan goes before giving up.
	scanRange = 1000
)

// ErrNoFreePorts means the whole scan range above a base port is taken.
var ErrNoFreePorts = errors.New("no free port in scan range")

// Allocator assigns bolt/HTTP host port pairs and persists them.
type Allocator struct {
	boltBase int
	httpBase int
	path     string
	log      logging.Logger

	mu          sync.Mutex
	allocations map[string]*models.PortAllocation
}

// NewAllocator creates an allocator persisting to dataDir. The table is
// loaded lazily on first use.
func NewAllocator(dataDir string, boltBase, httpBase int, log logging.Logger) *Allocator {
	return &Allocator{
		boltBase:    boltBase,
		httpBase:    httpBase,
		path:        filepath.Join(dataDir, allocationsFile),
		log:         log,
		allocations: make(map[string]*models.PortAllocation),
	}
}

// Allocate reserves the lowest free bolt/HTTP port pair. The returned
// allocation is temporary until Commit binds it to a container.
func (a *Allocator) Allocate() (*models.PortAllocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.reload(); err != nil {
		return nil, err
	}
	a.pruneExpired()

	used := make(map[int]bool)
	for _, alloc := range a.allocations {
		used[alloc.BoltPort] = true
		used[alloc.HTTPPort] = true
	}

	boltPort, err := a.findFree(a.boltBase, used)
	if err != nil {
		return nil, err
	}
	used[boltPort] = true

	httpPort, err := a.findFree(a.httpBase, used)
	if err != nil {
		return nil, err
	}

	alloc := &models.PortAllocation{
		ID:          uuid.New().String(),
		BoltPort:    boltPort,
		HTTPPort:    httpPort,
		AllocatedAt: time.Now().UTC(),
	}
	a.allocations[alloc.ID] = alloc

	if err := a.save(); err != nil {
		delete(a.allocations, alloc.ID)
		return nil, err
	}

	a.log.Debugw("allocated ports", "bolt", boltPort, "http", httpPort, "id", alloc.ID)
	return alloc, nil
}

// Commit replaces a temporary reservation with a permanent one keyed by the
// real container ID.
func (a *Allocator) Commit(alloc *models.PortAllocation, containerID string) error {
	if containerID == "" {
		return fmt.Errorf("container ID is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.allocations[alloc.ID]; !ok {
		return fmt.Errorf("allocation %s not found", alloc.ID)
	}

	delete(a.allocations, alloc.ID)
	committed := *alloc
	committed.ContainerID = containerID
	a.allocations[containerID] = &committed
	alloc.ContainerID = containerID

	return a.save()
}

// Release removes the reservation held by a container or a temporary
// allocation ID. Releasing an unknown key is a no-op.
func (a *Allocator) Release(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.reload(); err != nil {
		return err
	}
	if _, ok := a.allocations[key]; !ok {
		return nil
	}
	delete(a.allocations, key)
	return a.save()
}

// Allocations returns a snapshot of the current table, sorted by bolt port.
func (a *Allocator) Allocations() ([]*models.PortAllocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.reload(); err != nil {
		return nil, err
	}

	out := make([]*models.PortAllocation, 0, len(a.allocations))
	for _, alloc := range a.allocations {
		cp := *alloc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoltPort < out[j].BoltPort })
	return out, nil
}

// findFree scans upward from base for the lowest port that is neither in the
// table nor bound by another process on this host.
func (a *Allocator) findFree(base int, used map[int]bool) (int, error) {
	for port := base; port < base+scanRange; port++ {
		if used[port] {
			continue
		}
		if !osPortFree(port) {
			a.log.Debugw("port busy at OS level, skipping", "port", port)
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("%w: %d-%d", ErrNoFreePorts, base, base+scanRange)
}

func osPortFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// reload replaces the in-memory table with the persisted one. A missing file
// means an empty table.
func (a *Allocator) reload() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			a.allocations = make(map[string]*models.PortAllocation)
			return nil
		}
		return fmt.Errorf("failed to read allocation table: %w", err)
	}

	table := make(map[string]*models.PortAllocation)
	if err := json.Unmarshal(data, &table); err != nil {
		return fmt.Errorf("failed to parse allocation table %s: %w", a.path, err)
	}
	a.allocations = table
	return nil
}

func (a *Allocator) pruneExpired() {
	cutoff := time.Now().Add(-temporaryTTL)
	for key, alloc := range a.allocations {
		if alloc.Temporary() && alloc.AllocatedAt.Before(cutoff) {
			a.log.Debugw("pruning expired temporary allocation", "id", key, "bolt", alloc.BoltPort)
			delete(a.allocations, key)
		}
	}
}

// save writes the table through a temp file and rename so a crash mid-write
// cannot leave a truncated table behind.
func (a *Allocator) save() error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(a.allocations, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode allocation table: %w", err)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write allocation table: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace allocation table: %w", err)
	}
	return nil
}
