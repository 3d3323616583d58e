// Package data imports and exports database contents.
//
// Dumps are taken with the database's own admin tooling (neo4j-admin) inside
// the container, so the on-disk store format stays Neo4j's problem. An
// export archive is a gzip tarball holding the dump plus a metadata manifest
// that imports check before touching anything.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/neopod/neopod/internal/docker"
	"github.com/neopod/neopod/internal/logging"
	"github.com/neopod/neopod/models"
)

const (
	databaseName = "neo4j"

	containerExportDir = "/tmp/neopod-export"
	containerImportDir = "/tmp/neopod-import"

	manifestName = "metadata.json"
	dumpDirName  = "dump"
	dumpFileName = databaseName + ".dump"
)

// Validation failures raised before any destructive import step.
var (
	ErrFormatVersion    = errors.New("export archive has an unsupported format version")
	ErrIncompatibleDump = errors.New("dump version is incompatible with the target instance")
	ErrNotRunning       = errors.New("container is not running")
)

// StatsFunc supplies live node/relationship counts for the manifest. A nil
// StatsFunc leaves the counts at zero.
type StatsFunc func(ctx context.Context) (nodes, relationships int64, err error)

// ExportOptions configures Export.
type ExportOptions struct {
	Environment string
	Stats       StatsFunc
}

// ImportOptions configures Import.
type ImportOptions struct {
	// Validate checks format and engine version compatibility before any
	// destructive step
	Validate bool

	// Backup exports the current data next to the destination first
	Backup bool

	// Force skips validation
	Force bool

	Environment string
	Stats       StatsFunc
}

// Manager performs export and import against running containers.
type Manager struct {
	docker      docker.API
	stagingRoot string
	stopTimeout time.Duration
	log         logging.Logger
}

// NewManager creates a data manager. Staging directories are created under
// dataDir and always removed when an operation finishes.
func NewManager(api docker.API, dataDir string, stopTimeout time.Duration, log logging.Logger) *Manager {
	return &Manager{
		docker:      api,
		stagingRoot: filepath.Join(dataDir, "staging"),
		stopTimeout: stopTimeout,
		log:         log,
	}
}

// Export dumps the database of a running container into a compressed archive
// at destPath.
func (m *Manager) Export(ctx context.Context, containerID, destPath string, opts ExportOptions) (*models.ExportMetadata, error) {
	if err := m.requireRunning(ctx, containerID); err != nil {
		return nil, err
	}

	staging, err := m.newStagingDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	meta := &models.ExportMetadata{
		ExportedAt:    time.Now().UTC(),
		Environment:   opts.Environment,
		FormatVersion: models.ExportFormatVersion,
	}

	if opts.Stats != nil {
		nodes, rels, err := opts.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to collect statistics: %w", err)
		}
		meta.NodeCount = nodes
		meta.RelationshipCount = rels
	}

	if meta.Neo4jVersion, err = m.engineVersion(ctx, containerID); err != nil {
		return nil, err
	}
	if meta.SizeBytes, err = m.StoreSize(ctx, containerID); err != nil {
		m.log.Warnw("could not determine store size", "error", err)
	}

	// Dump inside the container, then stream the dump directory out
	if _, err := m.exec(ctx, containerID, []string{"rm", "-rf", containerExportDir}); err != nil {
		return nil, err
	}
	if _, err := m.exec(ctx, containerID, []string{"mkdir", "-p", containerExportDir}); err != nil {
		return nil, err
	}
	defer func() {
		_, _ = m.exec(ctx, containerID, []string{"rm", "-rf", containerExportDir})
	}()

	res, err := m.exec(ctx, containerID, []string{
		"neo4j-admin", "database", "dump", databaseName,
		"--to-path=" + containerExportDir,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("neo4j-admin dump failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	reader, _, err := m.docker.CopyFromContainer(ctx, containerID, containerExportDir)
	if err != nil {
		return nil, fmt.Errorf("failed to copy dump out of container: %w", err)
	}
	defer reader.Close()

	rawDir := filepath.Join(staging, "raw")
	if err := extractTar(reader, rawDir); err != nil {
		return nil, fmt.Errorf("failed to unpack dump stream: %w", err)
	}

	// The copy stream nests everything under the container directory name;
	// relocate the dump file into the archive layout.
	dumpSrc := filepath.Join(rawDir, filepath.Base(containerExportDir), dumpFileName)
	if _, err := os.Stat(dumpSrc); err != nil {
		return nil, fmt.Errorf("dump file missing from container output: %w", err)
	}

	packDirPath := filepath.Join(staging, "archive")
	if err := os.MkdirAll(filepath.Join(packDirPath, dumpDirName), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(dumpSrc, filepath.Join(packDirPath, dumpDirName, dumpFileName)); err != nil {
		return nil, fmt.Errorf("failed to stage dump file: %w", err)
	}

	manifest, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(packDirPath, manifestName), manifest, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, err
	}
	if err := packDir(packDirPath, destPath); err != nil {
		return nil, err
	}

	m.log.Infow("exported database",
		"container", shortID(containerID), "path", destPath,
		"nodes", meta.NodeCount, "relationships", meta.RelationshipCount)
	return meta, nil
}

// Import loads a previously exported archive into a running container,
// replacing its current data. With opts.Validate set, format and engine
// version checks run before anything destructive happens.
func (m *Manager) Import(ctx context.Context, containerID, srcPath string, opts ImportOptions) error {
	if err := m.requireRunning(ctx, containerID); err != nil {
		return err
	}
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("import archive not found: %w", err)
	}

	staging, err := m.newStagingDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := unpackArchive(srcPath, staging); err != nil {
		return err
	}

	meta, err := readManifest(filepath.Join(staging, manifestName))
	if err != nil {
		return err
	}

	dumpPath := filepath.Join(staging, dumpDirName, dumpFileName)
	if _, err := os.Stat(dumpPath); err != nil {
		return fmt.Errorf("archive contains no dump file: %w", err)
	}

	if opts.Validate && !opts.Force {
		if meta.FormatVersion != models.ExportFormatVersion {
			return fmt.Errorf("%w: archive has %s, this version reads %s",
				ErrFormatVersion, meta.FormatVersion, models.ExportFormatVersion)
		}
		target, err := m.engineVersion(ctx, containerID)
		if err != nil {
			return err
		}
		if err := meta.CompatibleWith(target); err != nil {
			return fmt.Errorf("%w: %v", ErrIncompatibleDump, err)
		}
	}

	if opts.Backup {
		backupPath := backupPathFor(srcPath)
		if _, err := m.Export(ctx, containerID, backupPath, ExportOptions{
			Environment: opts.Environment,
			Stats:       opts.Stats,
		}); err != nil {
			return fmt.Errorf("pre-import backup failed: %w", err)
		}
		m.log.Infow("wrote pre-import backup", "path", backupPath)
	}

	// Take the server offline. The process may already be down or the
	// image may not route the stop command; the data directory reset and
	// final restart make the outcome deterministic either way.
	if res, err := m.exec(ctx, containerID, []string{"neo4j-admin", "server", "stop"}); err != nil {
		return err
	} else if res.ExitCode != 0 {
		m.log.Debugw("server stop returned non-zero, continuing", "stderr", res.Stderr)
	}

	res, err := m.exec(ctx, containerID, []string{
		"rm", "-rf", "/data/databases", "/data/transactions",
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to clear data directory (exit %d): %s", res.ExitCode, res.Stderr)
	}

	if _, err := m.exec(ctx, containerID, []string{"mkdir", "-p", containerImportDir}); err != nil {
		return err
	}
	defer func() {
		_, _ = m.exec(ctx, containerID, []string{"rm", "-rf", containerImportDir})
	}()

	stream, err := tarFile(dumpPath, dumpFileName)
	if err != nil {
		return fmt.Errorf("failed to stage dump for copy: %w", err)
	}
	if err := m.docker.CopyToContainer(ctx, containerID, containerImportDir, stream, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy dump into container: %w", err)
	}

	res, err = m.exec(ctx, containerID, []string{
		"neo4j-admin", "database", "load", databaseName,
		"--from-path=" + containerImportDir,
		"--overwrite-destination=true",
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("neo4j-admin load failed (exit %d): %s", res.ExitCode, res.Stderr)
	}

	timeout := int(m.stopTimeout.Seconds())
	if err := m.docker.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to restart container after load: %w", err)
	}

	m.log.Infow("imported database",
		"container", shortID(containerID), "path", srcPath,
		"nodes", meta.NodeCount, "relationships", meta.RelationshipCount)
	return nil
}

// ReadManifest extracts just the metadata manifest from an export archive.
func (m *Manager) ReadManifest(srcPath string) (*models.ExportMetadata, error) {
	staging, err := m.newStagingDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if err := unpackArchive(srcPath, staging); err != nil {
		return nil, err
	}
	return readManifest(filepath.Join(staging, manifestName))
}

// ExecResult holds the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// exec runs a command inside a running container and captures its output.
func (m *Manager) exec(ctx context.Context, containerID string, cmd []string) (*ExecResult, error) {
	execResp, err := m.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := m.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := m.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

var versionPattern = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// engineVersion asks the container which Neo4j version it runs.
func (m *Manager) engineVersion(ctx context.Context, containerID string) (string, error) {
	res, err := m.exec(ctx, containerID, []string{"neo4j", "--version"})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("neo4j --version failed (exit %d): %s", res.ExitCode, res.Stderr)
	}
	version := versionPattern.FindString(res.Stdout)
	if version == "" {
		return "", fmt.Errorf("could not parse engine version from %q", strings.TrimSpace(res.Stdout))
	}
	return version, nil
}

// StoreSize measures the on-disk data directory inside the container.
func (m *Manager) StoreSize(ctx context.Context, containerID string) (int64, error) {
	res, err := m.exec(ctx, containerID, []string{"du", "-sb", "/data"})
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("du failed (exit %d): %s", res.ExitCode, res.Stderr)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected du output %q", res.Stdout)
	}
	return strconv.ParseInt(fields[0], 10, 64)
}

func (m *Manager) requireRunning(ctx context.Context, containerID string) error {
	inspect, err := m.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return fmt.Errorf("%w: %s", ErrNotRunning, shortID(containerID))
	}
	return nil
}

func (m *Manager) newStagingDir() (string, error) {
	dir := filepath.Join(m.stagingRoot, uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

func readManifest(path string) (*models.ExportMetadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive has no metadata manifest: %w", err)
	}
	meta := &models.ExportMetadata{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("invalid metadata manifest: %w", err)
	}
	return meta, nil
}

func backupPathFor(srcPath string) string {
	dir := filepath.Dir(srcPath)
	stamp := time.Now().UTC().Format("20060102-150405")
	return filepath.Join(dir, fmt.Sprintf("pre-import-backup-%s.tar.gz", stamp))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
