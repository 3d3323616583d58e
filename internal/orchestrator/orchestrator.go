// Package orchestrator creates, reuses, and tears down database containers.
//
// Start is idempotent per (environment, prefix): a registered running
// instance is returned as-is, an existing container with the deterministic
// name is adopted, and only otherwise is a fresh container created. Two
// processes racing to create the same name rely on the daemon's name
// uniqueness: the loser catches the conflict and falls back to reuse.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/errdefs"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/go-playground/validator/v10"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/neopod/neopod/internal/config"
	"github.com/neopod/neopod/internal/data"
	"github.com/neopod/neopod/internal/docker"
	"github.com/neopod/neopod/internal/logging"
	"github.com/neopod/neopod/internal/ports"
	"github.com/neopod/neopod/internal/volumes"
	"github.com/neopod/neopod/models"
)

const (
	boltPort = "7687/tcp"
	httpPort = "7474/tcp"

	// How long to wait for a restarted container to report running.
	runningStateTimeout = 30 * time.Second
)

// DriverFactory builds the database session capability attached to a new
// instance handle.
type DriverFactory func(uri, username, password string) (neo4j.DriverWithContext, error)

// Orchestrator is the top-level manager wiring ports, volumes, and data
// operations around container lifecycle.
type Orchestrator struct {
	docker    docker.API
	allocator *ports.Allocator
	volumes   *volumes.Manager
	data      *data.Manager
	prober    Prober
	drivers   DriverFactory
	validate  *validator.Validate
	cfg       *config.Config
	log       logging.Logger

	mu       sync.Mutex
	registry map[string]*Instance
}

// Option overrides a collaborator, used by tests and embedders.
type Option func(*Orchestrator)

// WithProber replaces the bolt connectivity prober.
func WithProber(p Prober) Option {
	return func(o *Orchestrator) { o.prober = p }
}

// WithDriverFactory replaces the database driver constructor.
func WithDriverFactory(f DriverFactory) Option {
	return func(o *Orchestrator) { o.drivers = f }
}

// New creates an orchestrator over the given runtime client.
func New(cfg *config.Config, api docker.API, log logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		docker:    api,
		allocator: ports.NewAllocator(cfg.DataDir, cfg.Ports.BoltBase, cfg.Ports.HTTPBase, log),
		volumes:   volumes.NewManager(api, cfg.Neo4j.Prefix, log),
		data:      data.NewManager(api, cfg.DataDir, cfg.Neo4j.StopTimeout, log),
		prober:    boltProber{},
		drivers: func(uri, username, password string) (neo4j.DriverWithContext, error) {
			return neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
		},
		validate: validator.New(),
		cfg:      cfg,
		log:      log,
		registry: make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start returns a running instance for the requested environment, reusing a
// registered instance or an existing container when possible and creating a
// fresh one otherwise.
func (o *Orchestrator) Start(ctx context.Context, cfg models.ContainerConfig) (*Instance, error) {
	o.applyDefaults(&cfg)
	if err := o.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid container config: %w", err)
	}

	key := registryKey(cfg.Prefix, cfg.Environment)
	name := containerName(cfg.Prefix, cfg.Environment)

	if inst := o.registered(key); inst != nil {
		running, err := inst.IsRunning(ctx)
		if err == nil && running {
			o.log.Debugw("returning registered instance", "container", ShortID(inst.ContainerID))
			return inst, nil
		}
		// Stale entry: the container stopped or vanished behind our back
		if inst.driver != nil {
			_ = inst.driver.Close(ctx)
		}
		o.unregister(inst.ContainerID)
	}

	existingID, err := o.findByName(ctx, name)
	if err != nil {
		return nil, err
	}

	var inst *Instance
	if existingID != "" {
		inst, err = o.reuse(ctx, existingID, cfg)
	} else {
		inst, err = o.create(ctx, name, cfg)
		if err != nil && errdefs.IsConflict(err) {
			// Lost a create race: someone else made the container
			// between our lookup and create. Adopt theirs.
			o.log.Infow("container name taken concurrently, falling back to reuse", "name", name)
			existingID, lookupErr := o.findByName(ctx, name)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existingID == "" {
				return nil, err
			}
			inst, err = o.reuse(ctx, existingID, cfg)
		}
	}
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.registry[key] = inst
	o.mu.Unlock()
	return inst, nil
}

// Stop stops a managed container with the configured grace period, releases
// its port allocation, and drops it from the registry. A container that is
// already gone or already stopped is not an error.
func (o *Orchestrator) Stop(ctx context.Context, containerID string) error {
	timeout := int(o.cfg.Neo4j.StopTimeout.Seconds())
	err := o.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if err != nil && !dockerclient.IsErrNotFound(err) && !errdefs.IsNotModified(err) {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}

	if err := o.allocator.Release(containerID); err != nil {
		return err
	}

	o.mu.Lock()
	for key, inst := range o.registry {
		if inst.ContainerID == containerID {
			if inst.driver != nil {
				_ = inst.driver.Close(ctx)
			}
			delete(o.registry, key)
		}
	}
	o.mu.Unlock()

	o.log.Infow("stopped instance", "container", ShortID(containerID))
	return nil
}

// StopAll stops every registered instance concurrently. Embedding hosts call
// this from their own shutdown path; the library installs no signal handlers
// of its own.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	instances := make([]*Instance, 0, len(o.registry))
	for _, inst := range o.registry {
		instances = append(instances, inst)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(instances))
	for _, inst := range instances {
		wg.Add(1)
		go func(inst *Instance) {
			defer wg.Done()
			if err := o.Stop(ctx, inst.ContainerID); err != nil {
				errs <- fmt.Errorf("stop %s: %w", ShortID(inst.ContainerID), err)
			}
		}(inst)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

// StopEnvironment stops the container for an environment by its
// deterministic name, whether or not this process started it.
func (o *Orchestrator) StopEnvironment(ctx context.Context, environment string) error {
	name := containerName(o.cfg.Neo4j.Prefix, environment)
	id, err := o.findByName(ctx, name)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("no container named %s", name)
	}
	return o.Stop(ctx, id)
}

// ContainerStatus describes one managed container as reported by the
// runtime.
type ContainerStatus struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Environment string    `json:"environment" yaml:"environment"`
	State       string    `json:"state" yaml:"state"`
	BoltPort    int       `json:"bolt_port" yaml:"bolt_port"`
	HTTPPort    int       `json:"http_port" yaml:"http_port"`
	Created     time.Time `json:"created" yaml:"created"`
}

// Status lists every managed container known to the runtime, running or
// not, across all processes.
func (o *Orchestrator) Status(ctx context.Context) ([]ContainerStatus, error) {
	list, err := o.docker.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", volumes.LabelManagedBy+"="+volumes.ManagedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]ContainerStatus, 0, len(list))
	for _, c := range list {
		status := ContainerStatus{
			ID:          ShortID(c.ID),
			Environment: c.Labels[volumes.LabelEnvironment],
			State:       c.State,
			Created:     time.Unix(c.Created, 0),
		}
		if len(c.Names) > 0 {
			status.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, p := range c.Ports {
			switch p.PrivatePort {
			case 7687:
				status.BoltPort = int(p.PublicPort)
			case 7474:
				status.HTTPPort = int(p.PublicPort)
			}
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// List returns the registered instances without re-scanning the runtime.
func (o *Orchestrator) List() []*Instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Instance, 0, len(o.registry))
	for _, inst := range o.registry {
		out = append(out, inst)
	}
	return out
}

// Cleanup force-removes test-environment containers older than keepDays,
// releases their port allocations, and then cleans stale test volumes.
// Development and production resources are never touched.
func (o *Orchestrator) Cleanup(ctx context.Context, keepDays int) error {
	list, err := o.docker.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", volumes.LabelManagedBy+"="+volumes.ManagedByValue),
			filters.Arg("label", volumes.LabelEnvironment+"="+models.EnvTest),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays)
	for _, c := range list {
		if time.Unix(c.Created, 0).After(cutoff) {
			continue
		}
		if err := o.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			if dockerclient.IsErrNotFound(err) {
				continue
			}
			return fmt.Errorf("failed to remove container %s: %w", ShortID(c.ID), err)
		}
		if err := o.allocator.Release(c.ID); err != nil {
			return err
		}
		o.unregister(c.ID)
		o.log.Infow("removed stale test container", "container", ShortID(c.ID))
	}

	removed, err := o.volumes.Cleanup(ctx, keepDays)
	if err != nil {
		return err
	}
	o.log.Infow("cleanup finished", "containers", len(list), "volumes_removed", removed)
	return nil
}

// reuse adopts an existing container: starts it if stopped, reads its
// published ports from runtime metadata, locates its volume, and waits for
// authenticated connectivity.
func (o *Orchestrator) reuse(ctx context.Context, containerID string, cfg models.ContainerConfig) (*Instance, error) {
	inspect, err := o.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	if inspect.State == nil || !inspect.State.Running {
		o.log.Infow("starting stopped container", "container", ShortID(containerID))
		if err := o.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("failed to start existing container: %w", err)
		}
		if err := o.waitRunning(ctx, containerID); err != nil {
			return nil, err
		}
		if inspect, err = o.docker.ContainerInspect(ctx, containerID); err != nil {
			return nil, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
		}
	}

	bolt, err := publishedPort(inspect, boltPort)
	if err != nil {
		return nil, err
	}
	http, err := publishedPort(inspect, httpPort)
	if err != nil {
		return nil, err
	}

	volumeName, err := o.volumes.FindForContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return o.finishStart(ctx, containerID, volumeName, bolt, http, cfg)
}

// create allocates ports and a volume, then creates and starts a fresh
// container. The temporary port allocation is committed against the real
// container ID only after creation succeeds.
func (o *Orchestrator) create(ctx context.Context, name string, cfg models.ContainerConfig) (*Instance, error) {
	alloc, err := o.allocator.Allocate()
	if err != nil {
		return nil, err
	}
	// Until commit, the reservation is temporary; release it on any
	// failure so the ports do not stay burned for an hour.
	committed := false
	defer func() {
		if !committed {
			_ = o.allocator.Release(alloc.ID)
		}
	}()

	vol, err := o.volumes.Create(ctx, cfg.Environment)
	if err != nil {
		return nil, err
	}

	if err := o.ensureImage(ctx); err != nil {
		return nil, err
	}

	containerCfg := &container.Config{
		Image: o.cfg.Neo4j.Image,
		Env:   o.containerEnv(cfg),
		Labels: map[string]string{
			volumes.LabelManagedBy:   volumes.ManagedByValue,
			volumes.LabelEnvironment: cfg.Environment,
			volumes.LabelCreatedAt:   time.Now().UTC().Format(time.RFC3339),
		},
		ExposedPorts: nat.PortSet{
			nat.Port(boltPort): struct{}{},
			nat.Port(httpPort): struct{}{},
		},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(boltPort): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(alloc.BoltPort)}},
			nat.Port(httpPort): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(alloc.HTTPPort)}},
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: vol.Name,
			Target: "/data",
		}},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}

	resp, err := o.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		if errdefs.IsConflict(err) {
			// The race winner's container uses its own volume; a test
			// volume made for this attempt is uniquely named and would
			// otherwise linger until age-based cleanup.
			if cfg.Environment == models.EnvTest {
				if rmErr := o.volumes.Remove(ctx, vol.Name); rmErr != nil {
					o.log.Warnw("could not remove orphaned test volume", "volume", vol.Name, "error", rmErr)
				}
			}
			return nil, err
		}
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := o.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = o.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	if err := o.allocator.Commit(alloc, resp.ID); err != nil {
		return nil, err
	}
	committed = true

	o.log.Infow("created instance",
		"container", ShortID(resp.ID), "name", name,
		"bolt", alloc.BoltPort, "http", alloc.HTTPPort, "volume", vol.Name)

	return o.finishStart(ctx, resp.ID, vol.Name, alloc.BoltPort, alloc.HTTPPort, cfg)
}

// finishStart waits for authenticated connectivity and builds the handle.
func (o *Orchestrator) finishStart(ctx context.Context, containerID, volumeName string, bolt, http int, cfg models.ContainerConfig) (*Instance, error) {
	boltURI := fmt.Sprintf("bolt://localhost:%d", bolt)
	httpURI := fmt.Sprintf("http://localhost:%d", http)

	if err := o.waitReady(ctx, boltURI, cfg.Username, cfg.Password); err != nil {
		return nil, err
	}

	driver, err := o.drivers(boltURI, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to open database session: %w", err)
	}

	return &Instance{
		BoltURI:     boltURI,
		HTTPURI:     httpURI,
		ContainerID: containerID,
		Volume:      volumeName,
		Environment: cfg.Environment,
		driver:      driver,
		orch:        o,
	}, nil
}

// waitReady polls the connectivity probe until the database accepts the
// credentials, the timeout passes, or the credentials are rejected outright.
func (o *Orchestrator) waitReady(ctx context.Context, uri, username, password string) error {
	deadline := time.Now().Add(o.cfg.Neo4j.StartupTimeout)

	var lastErr error
	for {
		err := o.prober.Verify(ctx, uri, username, password)
		if err == nil {
			return nil
		}
		if isAuthError(err) {
			return fmt.Errorf("%w (uri %s)", ErrAuthenticationFailed, uri)
		}
		lastErr = err

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s: %v", ErrReadinessTimeout, o.cfg.Neo4j.StartupTimeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.Neo4j.StartupInterval):
		}
	}
}

// waitRunning polls container state after a start until it reports running.
func (o *Orchestrator) waitRunning(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(runningStateTimeout)
	for {
		inspect, err := o.docker.ContainerInspect(ctx, containerID)
		if err != nil {
			return fmt.Errorf("failed to inspect container %s: %w", containerID, err)
		}
		if inspect.State != nil && inspect.State.Running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container %s did not reach running state within %s", ShortID(containerID), runningStateTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// findByName looks up a container (running or stopped) by exact name.
func (o *Orchestrator) findByName(ctx context.Context, name string) (string, error) {
	list, err := o.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range list {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}
	return "", nil
}

func (o *Orchestrator) ensureImage(ctx context.Context) error {
	if _, _, err := o.docker.ImageInspectWithRaw(ctx, o.cfg.Neo4j.Image); err == nil {
		return nil
	}

	o.log.Infow("pulling image", "image", o.cfg.Neo4j.Image)
	reader, err := o.docker.ImagePull(ctx, o.cfg.Neo4j.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", o.cfg.Neo4j.Image, err)
	}
	defer reader.Close()

	// Consume pull progress so the pull completes
	dec := json.NewDecoder(reader)
	for dec.More() {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			break
		}
	}
	return nil
}

func (o *Orchestrator) containerEnv(cfg models.ContainerConfig) []string {
	env := []string{
		fmt.Sprintf("NEO4J_AUTH=%s/%s", cfg.Username, cfg.Password),
	}
	memory := cfg.Memory
	if memory == "" {
		memory = o.cfg.Neo4j.Memory
	}
	if memory != "" {
		env = append(env,
			"NEO4J_server_memory_heap_max__size="+memory,
			"NEO4J_server_memory_pagecache_size="+memory,
		)
	}
	if len(cfg.Plugins) > 0 {
		plugins, _ := json.Marshal(cfg.Plugins)
		env = append(env, "NEO4J_PLUGINS="+string(plugins))
	}
	return env
}

func (o *Orchestrator) applyDefaults(cfg *models.ContainerConfig) {
	if cfg.Username == "" {
		cfg.Username = o.cfg.Neo4j.Username
	}
	if cfg.Prefix == "" {
		cfg.Prefix = o.cfg.Neo4j.Prefix
	}
}

func (o *Orchestrator) registered(key string) *Instance {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.registry[key]
}

func (o *Orchestrator) unregister(containerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, inst := range o.registry {
		if inst.ContainerID == containerID {
			delete(o.registry, key)
		}
	}
}

func registryKey(prefix, environment string) string {
	return prefix + "/" + environment
}

func containerName(prefix, environment string) string {
	return prefix + "-" + environment
}

func publishedPort(inspect container.InspectResponse, port string) (int, error) {
	if inspect.NetworkSettings == nil {
		return 0, fmt.Errorf("container has no network settings")
	}
	bindings := inspect.NetworkSettings.Ports[nat.Port(port)]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("container does not publish port %s", port)
	}
	hostPort, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("invalid published port %q: %w", bindings[0].HostPort, err)
	}
	return hostPort, nil
}

// ShortID truncates a container ID to the daemon's usual 12-character
// display form. IDs that are already shorter pass through unchanged.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
