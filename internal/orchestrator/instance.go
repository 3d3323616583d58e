package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/neopod/neopod/internal/data"
	"github.com/neopod/neopod/models"
)

// Instance is the handle returned to callers for a running database
// container. The caller owns it; the orchestrator only keeps a registry
// reference until Stop.
type Instance struct {
	BoltURI     string
	HTTPURI     string
	ContainerID string
	Volume      string
	Environment string

	driver neo4j.DriverWithContext
	orch   *Orchestrator
}

// Driver exposes the live database session capability.
func (i *Instance) Driver() neo4j.DriverWithContext {
	return i.driver
}

// Stop stops the underlying container and releases its resources.
func (i *Instance) Stop(ctx context.Context) error {
	return i.orch.Stop(ctx, i.ContainerID)
}

// IsRunning reports whether the underlying container is currently running.
func (i *Instance) IsRunning(ctx context.Context) (bool, error) {
	inspect, err := i.orch.docker.ContainerInspect(ctx, i.ContainerID)
	if err != nil {
		return false, err
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// ExportData dumps the instance's database into a compressed archive at path.
func (i *Instance) ExportData(ctx context.Context, path string) (*models.ExportMetadata, error) {
	return i.orch.data.Export(ctx, i.ContainerID, path, data.ExportOptions{
		Environment: i.Environment,
		Stats:       i.countStats,
	})
}

// ImportData replaces the instance's database with the contents of a
// previously exported archive.
func (i *Instance) ImportData(ctx context.Context, path string, opts data.ImportOptions) error {
	opts.Environment = i.Environment
	if opts.Stats == nil {
		opts.Stats = i.countStats
	}
	return i.orch.data.Import(ctx, i.ContainerID, path, opts)
}

// GetStats returns live node/relationship counts plus container resource
// usage.
func (i *Instance) GetStats(ctx context.Context) (*models.InstanceStats, error) {
	nodes, rels, err := i.countStats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.InstanceStats{
		NodeCount:         nodes,
		RelationshipCount: rels,
	}

	if size, err := i.orch.data.StoreSize(ctx, i.ContainerID); err == nil {
		stats.SizeBytes = size
	}

	resp, err := i.orch.docker.ContainerStatsOneShot(ctx, i.ContainerID)
	if err != nil {
		return stats, nil
	}
	defer resp.Body.Close()

	var raw struct {
		MemoryStats struct {
			Usage uint64 `json:"usage"`
		} `json:"memory_stats"`
		CPUStats    cpuSample `json:"cpu_stats"`
		PreCPUStats cpuSample `json:"precpu_stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err == nil {
		stats.MemoryUsage = raw.MemoryStats.Usage
		stats.CPUPercent = cpuPercent(raw.PreCPUStats, raw.CPUStats)
	}

	return stats, nil
}

type cpuSample struct {
	CPUUsage struct {
		TotalUsage uint64 `json:"total_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint64 `json:"online_cpus"`
}

// cpuPercent derives a usage percentage from two stats samples the way the
// docker CLI does.
func cpuPercent(prev, cur cpuSample) float64 {
	cpuDelta := float64(cur.CPUUsage.TotalUsage) - float64(prev.CPUUsage.TotalUsage)
	sysDelta := float64(cur.SystemUsage) - float64(prev.SystemUsage)
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}
	cpus := float64(cur.OnlineCPUs)
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / sysDelta * cpus * 100
}

// countStats runs the two fixed count queries powering stats and export
// manifests.
func (i *Instance) countStats(ctx context.Context) (int64, int64, error) {
	if i.driver == nil {
		return 0, 0, fmt.Errorf("instance has no database session")
	}

	session := i.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	nodes, err := singleCount(ctx, session, "MATCH (n) RETURN count(n) AS c")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	rels, err := singleCount(ctx, session, "MATCH ()-[r]->() RETURN count(r) AS c")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count relationships: %w", err)
	}
	return nodes, rels, nil
}

func singleCount(ctx context.Context, session neo4j.SessionWithContext, query string) (int64, error) {
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	count, ok := record.Values[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected count result %T", record.Values[0])
	}
	return count, nil
}
