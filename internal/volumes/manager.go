// Package volumes manages the Docker volumes backing database instances.
//
// Development and production environments use one stable volume each,
// resolved by a deterministic name, so data survives container teardown.
// Test environments always get a fresh, uniquely named volume so parallel
// runs never collide and never resurrect stale data.
package volumes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/errdefs"
	"github.com/google/uuid"

	"github.com/neopod/neopod/internal/docker"
	"github.com/neopod/neopod/internal/logging"
	"github.com/neopod/neopod/models"
)

// Label keys applied to managed volumes and containers.
const (
	LabelManagedBy   = "neopod.managed-by"
	LabelEnvironment = "neopod.environment"
	LabelCreatedAt   = "neopod.created-at"

	ManagedByValue = "neopod"
)

// ErrNoVolumeFound is returned when a container has no resolvable data volume.
var ErrNoVolumeFound = errors.New("no volume found for container")

// Manager creates, finds, and cleans managed volumes.
type Manager struct {
	docker docker.API
	prefix string
	log    logging.Logger
}

// NewManager creates a volume manager. prefix is the resource name prefix
// shared with the orchestrator.
func NewManager(api docker.API, prefix string, log logging.Logger) *Manager {
	return &Manager{docker: api, prefix: prefix, log: log}
}

// DeterministicName returns the stable volume name for a persistent
// environment.
func (m *Manager) DeterministicName(environment string) string {
	return fmt.Sprintf("%s-%s-data", m.prefix, environment)
}

// uniqueTestName returns a volume name that cannot collide across rapid
// repeated calls or parallel test runs.
func (m *Manager) uniqueTestName() string {
	return fmt.Sprintf("%s-test-%d-%s-data",
		m.prefix, time.Now().UnixNano(), uuid.New().String()[:8])
}

// Create returns the volume for an environment, creating it if needed.
// Persistent environments reuse an existing volume with the deterministic
// name; test environments always create a fresh one.
func (m *Manager) Create(ctx context.Context, environment string) (*models.VolumeInfo, error) {
	var name string
	if environment == models.EnvTest {
		name = m.uniqueTestName()
	} else {
		name = m.DeterministicName(environment)
		if existing, err := m.docker.VolumeInspect(ctx, name); err == nil {
			m.log.Debugw("reusing existing volume", "volume", name)
			return volumeToInfo(existing), nil
		}
	}

	now := time.Now().UTC()
	created, err := m.docker.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
		Labels: map[string]string{
			LabelManagedBy:   ManagedByValue,
			LabelEnvironment: environment,
			LabelCreatedAt:   now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume %s: %w", name, err)
	}

	m.log.Infow("created volume", "volume", created.Name, "environment", environment)
	return volumeToInfo(created), nil
}

// FindForContainer resolves the data volume of a container. It first scans
// the container's mounts for a managed volume; if none matches it derives
// the deterministic name from the container's environment label.
func (m *Manager) FindForContainer(ctx context.Context, containerID string) (string, error) {
	inspect, err := m.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	for _, mnt := range inspect.Mounts {
		if mnt.Name != "" && strings.HasPrefix(mnt.Name, m.prefix+"-") {
			return mnt.Name, nil
		}
	}

	if inspect.Config != nil {
		if env, ok := inspect.Config.Labels[LabelEnvironment]; ok && env != "" {
			name := m.DeterministicName(env)
			if _, err := m.docker.VolumeInspect(ctx, name); err == nil {
				return name, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoVolumeFound, containerID)
}

// Remove deletes a managed volume. A volume that is already gone is not an
// error.
func (m *Manager) Remove(ctx context.Context, name string) error {
	if err := m.docker.VolumeRemove(ctx, name, false); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove volume %s: %w", name, err)
	}
	return nil
}

// Cleanup removes test-environment volumes older than keepDays. Volumes for
// other environments are never touched. A volume still in use by a container
// is skipped, not treated as an error. Returns the number of removed volumes.
//
// Age is judged from the created-at label. Test volumes are single-use, so
// creation time also bounds last use.
func (m *Manager) Cleanup(ctx context.Context, keepDays int) (int, error) {
	list, err := m.docker.VolumeList(ctx, volume.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
			filters.Arg("label", LabelEnvironment+"="+models.EnvTest),
		),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list volumes: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)
	removed := 0

	for _, vol := range list.Volumes {
		createdAt, err := time.Parse(time.RFC3339, vol.Labels[LabelCreatedAt])
		if err != nil {
			// Unparseable creation label: leave the volume alone
			m.log.Warnw("volume has no usable created-at label, skipping",
				"volume", vol.Name)
			continue
		}
		if !createdAt.Before(cutoff) {
			continue
		}

		if err := m.docker.VolumeRemove(ctx, vol.Name, false); err != nil {
			if strings.Contains(err.Error(), "in use") {
				m.log.Debugw("volume in use, skipping", "volume", vol.Name)
				continue
			}
			return removed, fmt.Errorf("failed to remove volume %s: %w", vol.Name, err)
		}
		m.log.Infow("removed stale test volume", "volume", vol.Name, "created", createdAt)
		removed++
	}

	return removed, nil
}

func volumeToInfo(vol volume.Volume) *models.VolumeInfo {
	info := &models.VolumeInfo{
		Name:        vol.Name,
		Environment: vol.Labels[LabelEnvironment],
	}
	if created, err := time.Parse(time.RFC3339, vol.Labels[LabelCreatedAt]); err == nil {
		info.CreatedAt = created
	}
	if vol.UsageData != nil {
		info.SizeBytes = vol.UsageData.Size
	}
	return info
}
