package data

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neopod/neopod/internal/docker/dockertest"
	"github.com/neopod/neopod/internal/logging"
	"github.com/neopod/neopod/models"
)

// neo4jExecHandler simulates the admin tooling of a container running the
// given engine version.
func neo4jExecHandler(version string) func(string, []string) (int, string, string) {
	return func(containerID string, cmd []string) (int, string, string) {
		switch {
		case len(cmd) >= 2 && cmd[0] == "neo4j" && cmd[1] == "--version":
			return 0, "neo4j " + version + "\n", ""
		case len(cmd) >= 2 && cmd[0] == "du" && cmd[1] == "-sb":
			return 0, "12345\t/data\n", ""
		default:
			return 0, "", ""
		}
	}
}

func newTestSetup(t *testing.T, version string) (*Manager, *dockertest.Fake, string) {
	t.Helper()
	fake := dockertest.New()
	fake.ExecHandler = neo4jExecHandler(version)
	fake.AddContainer(&dockertest.FakeContainer{ID: "db-container", Running: true})

	mgr := NewManager(fake, t.TempDir(), 30*time.Second, logging.Nop())
	return mgr, fake, "db-container"
}

func hasExec(fake *dockertest.Fake, want string) bool {
	for _, call := range fake.ExecCalls {
		if strings.Contains(strings.Join(call.Cmd, " "), want) {
			return true
		}
	}
	return false
}

func TestExportWritesArchiveWithManifest(t *testing.T) {
	mgr, fake, id := newTestSetup(t, "5.26.0")

	dest := filepath.Join(t.TempDir(), "export.tar.gz")
	stats := func(ctx context.Context) (int64, int64, error) { return 42, 17, nil }

	meta, err := mgr.Export(context.Background(), id, dest, ExportOptions{
		Environment: models.EnvDevelopment,
		Stats:       stats,
	})
	require.NoError(t, err)

	assert.Equal(t, "5.26.0", meta.Neo4jVersion)
	assert.Equal(t, int64(42), meta.NodeCount)
	assert.Equal(t, int64(17), meta.RelationshipCount)
	assert.Equal(t, int64(12345), meta.SizeBytes)
	assert.Equal(t, models.EnvDevelopment, meta.Environment)
	assert.Equal(t, models.ExportFormatVersion, meta.FormatVersion)

	assert.True(t, hasExec(fake, "neo4j-admin database dump neo4j"))

	read, err := mgr.ReadManifest(dest)
	require.NoError(t, err)
	assert.Equal(t, meta.Neo4jVersion, read.Neo4jVersion)
	assert.Equal(t, meta.NodeCount, read.NodeCount)
}

func TestExportRequiresRunningContainer(t *testing.T) {
	mgr, fake, _ := newTestSetup(t, "5.26.0")
	fake.AddContainer(&dockertest.FakeContainer{ID: "stopped", Running: false})

	_, err := mgr.Export(context.Background(), "stopped", filepath.Join(t.TempDir(), "x.tar.gz"), ExportOptions{})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestExportCleansStaging(t *testing.T) {
	mgr, _, id := newTestSetup(t, "5.26.0")

	dest := filepath.Join(t.TempDir(), "export.tar.gz")
	_, err := mgr.Export(context.Background(), id, dest, ExportOptions{Environment: models.EnvTest})
	require.NoError(t, err)

	entries, err := os.ReadDir(mgr.stagingRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directories must be removed after export")
}

func TestImportRoundTrip(t *testing.T) {
	mgr, fake, id := newTestSetup(t, "5.26.0")

	archive := filepath.Join(t.TempDir(), "export.tar.gz")
	_, err := mgr.Export(context.Background(), id, archive, ExportOptions{Environment: models.EnvDevelopment})
	require.NoError(t, err)

	err = mgr.Import(context.Background(), id, archive, ImportOptions{Validate: true})
	require.NoError(t, err)

	assert.True(t, hasExec(fake, "rm -rf /data/databases /data/transactions"))
	assert.True(t, hasExec(fake, "neo4j-admin database load neo4j"))
	assert.True(t, hasExec(fake, "--overwrite-destination=true"))
	assert.Contains(t, fake.CopyToCalls, "/tmp/neopod-import")

	// The container is restarted after the load and must end up running
	assert.True(t, fake.Container(id).Running)
}

// writeArchive builds an export archive by hand, used for version
// compatibility scenarios.
func writeArchive(t *testing.T, meta models.ExportMetadata) string {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "dump"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "dump", "neo4j.dump"), []byte("dump"), 0o644))

	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, "metadata.json"), raw, 0o644))

	dest := filepath.Join(t.TempDir(), "handmade.tar.gz")
	require.NoError(t, packDir(src, dest))
	return dest
}

func TestImportVersionMismatchFailsBeforeAnythingDestructive(t *testing.T) {
	mgr, fake, id := newTestSetup(t, "5.26.0")

	archive := writeArchive(t, models.ExportMetadata{
		Neo4jVersion:  "4.4.0",
		FormatVersion: models.ExportFormatVersion,
	})

	err := mgr.Import(context.Background(), id, archive, ImportOptions{Validate: true})
	assert.ErrorIs(t, err, ErrIncompatibleDump)

	assert.False(t, hasExec(fake, "rm -rf /data/databases"),
		"data directory must be untouched when validation fails")
	assert.Empty(t, fake.CopyToCalls)
}

func TestImportRejectsUnknownFormatVersion(t *testing.T) {
	mgr, _, id := newTestSetup(t, "5.26.0")

	archive := writeArchive(t, models.ExportMetadata{
		Neo4jVersion:  "5.26.0",
		FormatVersion: "99.0",
	})

	err := mgr.Import(context.Background(), id, archive, ImportOptions{Validate: true})
	assert.ErrorIs(t, err, ErrFormatVersion)
}

func TestImportForceSkipsValidation(t *testing.T) {
	mgr, fake, id := newTestSetup(t, "5.26.0")

	archive := writeArchive(t, models.ExportMetadata{
		Neo4jVersion:  "4.4.0",
		FormatVersion: "99.0",
	})

	err := mgr.Import(context.Background(), id, archive, ImportOptions{Validate: true, Force: true})
	require.NoError(t, err)
	assert.True(t, hasExec(fake, "neo4j-admin database load neo4j"))
}

func TestImportMissingArchive(t *testing.T) {
	mgr, _, id := newTestSetup(t, "5.26.0")

	err := mgr.Import(context.Background(), id, filepath.Join(t.TempDir(), "nope.tar.gz"), ImportOptions{})
	assert.ErrorContains(t, err, "import archive not found")
}

func TestImportWithBackup(t *testing.T) {
	mgr, _, id := newTestSetup(t, "5.26.0")

	dir := t.TempDir()
	archive := filepath.Join(dir, "export.tar.gz")
	_, err := mgr.Export(context.Background(), id, archive, ExportOptions{Environment: models.EnvDevelopment})
	require.NoError(t, err)

	err = mgr.Import(context.Background(), id, archive, ImportOptions{Validate: true, Backup: true})
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "pre-import-backup-*.tar.gz"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestStoreSize(t *testing.T) {
	mgr, _, id := newTestSetup(t, "5.26.0")

	size, err := mgr.StoreSize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), size)
}
