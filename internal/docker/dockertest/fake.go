// Package dockertest provides an in-memory fake of the container runtime
// API for tests. It models just enough daemon behavior (name uniqueness,
// container state transitions, label filtering, exec plumbing) to exercise
// the orchestration paths without a real daemon.
package dockertest

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// FakeContainer is the stored state of one fake container.
type FakeContainer struct {
	ID        string
	Name      string
	Config    *container.Config
	Host      *container.HostConfig
	Running   bool
	CreatedAt time.Time
	Mounts    []container.MountPoint
}

// ExecCall records one command executed inside a fake container.
type ExecCall struct {
	ContainerID string
	Cmd         []string
}

type pendingExec struct {
	containerID string
	cmd         []string
	exitCode    int
}

// Fake implements the runtime API over in-memory state.
type Fake struct {
	mu sync.Mutex

	containers map[string]*FakeContainer
	volumes    map[string]volume.Volume
	execs      map[string]*pendingExec

	// ExecHandler decides the outcome of exec'd commands. The default
	// returns exit 0 with empty output.
	ExecHandler func(containerID string, cmd []string) (exitCode int, stdout, stderr string)

	// OnCreate runs at the start of ContainerCreate, before the name
	// uniqueness check. Tests use it to simulate create races.
	OnCreate func(name string)

	// CopyFromFn overrides the stream returned by CopyFromContainer. The
	// default is a tar stream holding <basename(path)>/neo4j.dump.
	CopyFromFn func(containerID, path string) (io.ReadCloser, error)

	// Stats returned by ContainerStatsOneShot.
	MemoryUsage uint64

	// ExecCalls records every exec in order.
	ExecCalls []ExecCall

	// CopyToCalls records destination paths of CopyToContainer calls.
	CopyToCalls []string

	// RemovedVolumes records volumes deleted via VolumeRemove.
	RemovedVolumes []string
}

// New creates an empty fake runtime.
func New() *Fake {
	return &Fake{
		containers: make(map[string]*FakeContainer),
		volumes:    make(map[string]volume.Volume),
		execs:      make(map[string]*pendingExec),
	}
}

// AddContainer seeds a container, bypassing the create path.
func (f *Fake) AddContainer(c *FakeContainer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	f.containers[c.ID] = c
}

// Container returns the stored state for an ID, or nil.
func (f *Fake) Container(id string) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.containers[id]
}

// AddVolume seeds a volume.
func (f *Fake) AddVolume(v volume.Volume) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[v.Name] = v
}

// HasVolume reports whether a volume exists.
func (f *Fake) HasVolume(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[name]
	return ok
}

func (f *Fake) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.47"}, nil
}

func (f *Fake) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.OnCreate != nil {
		f.OnCreate(containerName)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.containers {
		if c.Name == containerName {
			return container.CreateResponse{}, errdefs.Conflict(
				fmt.Errorf("Conflict. The container name %q is already in use by container %q", containerName, c.ID))
		}
	}

	c := &FakeContainer{
		ID:        uuid.New().String(),
		Name:      containerName,
		Config:    config,
		Host:      hostConfig,
		CreatedAt: time.Now(),
	}
	if hostConfig != nil {
		for _, m := range hostConfig.Mounts {
			c.Mounts = append(c.Mounts, container.MountPoint{
				Type: m.Type, Name: m.Source, Destination: m.Target,
			})
		}
	}
	f.containers[c.ID] = c
	return container.CreateResponse{ID: c.ID}, nil
}

func (f *Fake) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("No such container: %s", containerID))
	}
	c.Running = true
	return nil
}

func (f *Fake) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("No such container: %s", containerID))
	}
	if !c.Running {
		// The daemon answers 304 when the container is already stopped
		return errdefs.NotModified(fmt.Errorf("container %s is already stopped", containerID))
	}
	c.Running = false
	return nil
}

func (f *Fake) ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound(fmt.Errorf("No such container: %s", containerID))
	}
	c.Running = true
	return nil
}

func (f *Fake) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return errdefs.NotFound(fmt.Errorf("No such container: %s", containerID))
	}
	delete(f.containers, containerID)
	return nil
}

func (f *Fake) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return container.InspectResponse{}, errdefs.NotFound(fmt.Errorf("No such container: %s", containerID))
	}
	return f.inspectLocked(c), nil
}

func (f *Fake) inspectLocked(c *FakeContainer) container.InspectResponse {
	state := "exited"
	if c.Running {
		state = "running"
	}

	ports := make(nat.PortMap)
	if c.Host != nil {
		for port, bindings := range c.Host.PortBindings {
			ports[port] = bindings
		}
	}

	cfg := c.Config
	if cfg == nil {
		cfg = &container.Config{}
	}

	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:      c.ID,
			Name:    "/" + c.Name,
			Created: c.CreatedAt.Format(time.RFC3339Nano),
			State: &container.State{
				Running: c.Running,
				Status:  state,
			},
			HostConfig: c.Host,
		},
		Config: cfg,
		Mounts: c.Mounts,
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: ports,
			},
		},
	}
}

func (f *Fake) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var nameFilters, labelFilters []string
	if options.Filters.Len() > 0 {
		nameFilters = options.Filters.Get("name")
		labelFilters = options.Filters.Get("label")
	}

	var out []container.Summary
	for _, c := range f.containers {
		if !c.Running && !options.All {
			continue
		}
		if !matchName(c.Name, nameFilters) {
			continue
		}
		labels := map[string]string{}
		if c.Config != nil && c.Config.Labels != nil {
			labels = c.Config.Labels
		}
		if !matchLabels(labels, labelFilters) {
			continue
		}

		state := "exited"
		if c.Running {
			state = "running"
		}
		out = append(out, container.Summary{
			ID:      c.ID,
			Names:   []string{"/" + c.Name},
			Labels:  labels,
			State:   state,
			Created: c.CreatedAt.Unix(),
		})
	}
	return out, nil
}

func matchName(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if strings.Contains(name, strings.TrimPrefix(p, "^")) {
			return true
		}
	}
	return false
}

func matchLabels(labels map[string]string, patterns []string) bool {
	for _, p := range patterns {
		key, want, hasValue := strings.Cut(p, "=")
		got, ok := labels[key]
		if !ok {
			return false
		}
		if hasValue && got != want {
			return false
		}
	}
	return true
}

func (f *Fake) ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error) {
	f.mu.Lock()
	usage := f.MemoryUsage
	f.mu.Unlock()

	stats := container.StatsResponse{}
	stats.MemoryStats.Usage = usage
	raw, err := json.Marshal(stats)
	if err != nil {
		return container.StatsResponseReader{}, err
	}
	return container.StatsResponseReader{
		Body: io.NopCloser(bytes.NewReader(raw)),
	}, nil
}

func (f *Fake) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.containers[containerID]; !ok {
		return container.ExecCreateResponse{}, errdefs.NotFound(fmt.Errorf("No such container: %s", containerID))
	}

	id := uuid.New().String()
	f.execs[id] = &pendingExec{containerID: containerID, cmd: options.Cmd}
	f.ExecCalls = append(f.ExecCalls, ExecCall{ContainerID: containerID, Cmd: options.Cmd})
	return container.ExecCreateResponse{ID: id}, nil
}

func (f *Fake) ContainerExecAttach(ctx context.Context, execID string, options container.ExecStartOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	exec, ok := f.execs[execID]
	handler := f.ExecHandler
	f.mu.Unlock()

	if !ok {
		return types.HijackedResponse{}, errdefs.NotFound(fmt.Errorf("No such exec instance: %s", execID))
	}

	var exitCode int
	var stdout, stderr string
	if handler != nil {
		exitCode, stdout, stderr = handler(exec.containerID, exec.cmd)
	}

	f.mu.Lock()
	exec.exitCode = exitCode
	f.mu.Unlock()

	var buf bytes.Buffer
	if stdout != "" {
		if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout)); err != nil {
			return types.HijackedResponse{}, err
		}
	}
	if stderr != "" {
		if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr)); err != nil {
			return types.HijackedResponse{}, err
		}
	}

	client, server := net.Pipe()
	server.Close()
	return types.HijackedResponse{
		Conn:   client,
		Reader: bufio.NewReader(&buf),
	}, nil
}

func (f *Fake) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exec, ok := f.execs[execID]
	if !ok {
		return container.ExecInspect{}, errdefs.NotFound(fmt.Errorf("No such exec instance: %s", execID))
	}
	return container.ExecInspect{
		ExecID:      execID,
		ContainerID: exec.containerID,
		ExitCode:    exec.exitCode,
	}, nil
}

func (f *Fake) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	if f.CopyFromFn != nil {
		rc, err := f.CopyFromFn(containerID, srcPath)
		return rc, container.PathStat{}, err
	}

	// Default: a tar stream with <basename>/neo4j.dump
	base := srcPath[strings.LastIndex(srcPath, "/")+1:]
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("fake dump contents")
	_ = tw.WriteHeader(&tar.Header{Name: base + "/", Typeflag: tar.TypeDir, Mode: 0o755})
	_ = tw.WriteHeader(&tar.Header{Name: base + "/neo4j.dump", Mode: 0o644, Size: int64(len(content))})
	_, _ = tw.Write(content)
	_ = tw.Close()
	return io.NopCloser(&buf), container.PathStat{}, nil
}

func (f *Fake) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	f.mu.Lock()
	f.CopyToCalls = append(f.CopyToCalls, dstPath)
	f.mu.Unlock()
	_, err := io.Copy(io.Discard, content)
	return err
}

func (f *Fake) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	return types.ImageInspect{ID: "sha256:fake"}, nil, nil
}

func (f *Fake) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *Fake) VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := volume.Volume{
		Name:   options.Name,
		Driver: options.Driver,
		Labels: options.Labels,
	}
	f.volumes[v.Name] = v
	return v, nil
}

func (f *Fake) VolumeInspect(ctx context.Context, volumeID string) (volume.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[volumeID]
	if !ok {
		return volume.Volume{}, errdefs.NotFound(fmt.Errorf("No such volume: %s", volumeID))
	}
	return v, nil
}

func (f *Fake) VolumeList(ctx context.Context, options volume.ListOptions) (volume.ListResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var labelFilters []string
	if options.Filters.Len() > 0 {
		labelFilters = options.Filters.Get("label")
	}

	resp := volume.ListResponse{}
	for name := range f.volumes {
		v := f.volumes[name]
		if !matchLabels(v.Labels, labelFilters) {
			continue
		}
		vol := v
		resp.Volumes = append(resp.Volumes, &vol)
	}
	return resp, nil
}

func (f *Fake) VolumeRemove(ctx context.Context, volumeID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.volumes[volumeID]; !ok {
		return errdefs.NotFound(fmt.Errorf("No such volume: %s", volumeID))
	}
	for _, c := range f.containers {
		for _, m := range c.Mounts {
			if m.Name == volumeID {
				return errdefs.Conflict(fmt.Errorf("volume is in use - [%s]", c.ID))
			}
		}
	}
	delete(f.volumes, volumeID)
	f.RemovedVolumes = append(f.RemovedVolumes, volumeID)
	return nil
}

func (f *Fake) Close() error { return nil }
