package volumes

import (
	"context"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/volume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neopod/neopod/internal/docker/dockertest"
	"github.com/neopod/neopod/internal/logging"
	"github.com/neopod/neopod/models"
)

func newTestManager() (*Manager, *dockertest.Fake) {
	fake := dockertest.New()
	return NewManager(fake, "neopod", logging.Nop()), fake
}

func TestCreatePersistentVolume(t *testing.T) {
	mgr, fake := newTestManager()

	info, err := mgr.Create(context.Background(), models.EnvDevelopment)
	require.NoError(t, err)

	assert.Equal(t, "neopod-development-data", info.Name)
	assert.Equal(t, models.EnvDevelopment, info.Environment)
	assert.True(t, fake.HasVolume("neopod-development-data"))
}

func TestCreateReusesExistingPersistentVolume(t *testing.T) {
	mgr, fake := newTestManager()

	first, err := mgr.Create(context.Background(), models.EnvProduction)
	require.NoError(t, err)
	second, err := mgr.Create(context.Background(), models.EnvProduction)
	require.NoError(t, err)

	assert.Equal(t, first.Name, second.Name)
	assert.True(t, fake.HasVolume(first.Name))
}

func TestCreateTestVolumesAreUnique(t *testing.T) {
	mgr, _ := newTestManager()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		info, err := mgr.Create(context.Background(), models.EnvTest)
		require.NoError(t, err)
		assert.False(t, seen[info.Name], "duplicate test volume name %s", info.Name)
		seen[info.Name] = true
		assert.Contains(t, info.Name, "neopod-test-")
		assert.Contains(t, info.Name, "-data")
	}
}

func TestCreateAppliesLabels(t *testing.T) {
	fake := dockertest.New()
	mgr := NewManager(fake, "neopod", logging.Nop())

	info, err := mgr.Create(context.Background(), models.EnvTest)
	require.NoError(t, err)

	list, err := fake.VolumeList(context.Background(), volume.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Volumes, 1)

	labels := list.Volumes[0].Labels
	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, models.EnvTest, labels[LabelEnvironment])
	_, err = time.Parse(time.RFC3339, labels[LabelCreatedAt])
	assert.NoError(t, err, "created-at label must be RFC3339")
	assert.Equal(t, info.Name, list.Volumes[0].Name)
}

func TestFindForContainerViaMounts(t *testing.T) {
	mgr, fake := newTestManager()

	fake.AddContainer(&dockertest.FakeContainer{
		ID: "c1",
		Mounts: []container.MountPoint{
			{Type: "volume", Name: "neopod-development-data", Destination: "/data"},
		},
	})

	name, err := mgr.FindForContainer(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "neopod-development-data", name)
}

func TestFindForContainerViaEnvironmentLabel(t *testing.T) {
	mgr, fake := newTestManager()

	fake.AddVolume(volume.Volume{Name: "neopod-production-data"})
	fake.AddContainer(&dockertest.FakeContainer{
		ID: "c1",
		Config: &container.Config{
			Labels: map[string]string{LabelEnvironment: models.EnvProduction},
		},
	})

	name, err := mgr.FindForContainer(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "neopod-production-data", name)
}

func TestFindForContainerNoVolume(t *testing.T) {
	mgr, fake := newTestManager()

	fake.AddContainer(&dockertest.FakeContainer{ID: "c1"})

	_, err := mgr.FindForContainer(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNoVolumeFound)
}

func seedAgedVolume(fake *dockertest.Fake, name, environment string, age time.Duration) {
	fake.AddVolume(volume.Volume{
		Name: name,
		Labels: map[string]string{
			LabelManagedBy:   ManagedByValue,
			LabelEnvironment: environment,
			LabelCreatedAt:   time.Now().Add(-age).UTC().Format(time.RFC3339),
		},
	})
}

func TestCleanupRemovesOnlyOldTestVolumes(t *testing.T) {
	mgr, fake := newTestManager()

	seedAgedVolume(fake, "neopod-test-old-data", models.EnvTest, 10*24*time.Hour)
	seedAgedVolume(fake, "neopod-test-fresh-data", models.EnvTest, time.Hour)
	seedAgedVolume(fake, "neopod-development-data", models.EnvDevelopment, 30*24*time.Hour)

	removed, err := mgr.Cleanup(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.False(t, fake.HasVolume("neopod-test-old-data"))
	assert.True(t, fake.HasVolume("neopod-test-fresh-data"))
	assert.True(t, fake.HasVolume("neopod-development-data"))
}

func TestCleanupSkipsVolumesInUse(t *testing.T) {
	mgr, fake := newTestManager()

	seedAgedVolume(fake, "neopod-test-busy-data", models.EnvTest, 10*24*time.Hour)
	fake.AddContainer(&dockertest.FakeContainer{
		ID: "c1",
		Mounts: []container.MountPoint{
			{Type: "volume", Name: "neopod-test-busy-data", Destination: "/data"},
		},
	})

	removed, err := mgr.Cleanup(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 0, removed)
	assert.True(t, fake.HasVolume("neopod-test-busy-data"))
}

func TestCleanupSkipsUnlabeledVolumes(t *testing.T) {
	mgr, fake := newTestManager()

	fake.AddVolume(volume.Volume{
		Name: "neopod-test-nolabel-data",
		Labels: map[string]string{
			LabelManagedBy:   ManagedByValue,
			LabelEnvironment: models.EnvTest,
		},
	})

	removed, err := mgr.Cleanup(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 0, removed)
	assert.True(t, fake.HasVolume("neopod-test-nolabel-data"))
}
