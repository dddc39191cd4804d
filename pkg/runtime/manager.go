package runtime

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/polisproject/polisd/pkg/dns"
	"github.com/polisproject/polisd/pkg/events"
	"github.com/polisproject/polisd/pkg/firewall"
	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/polisproject/polisd/pkg/ipam"
	"github.com/polisproject/polisd/pkg/log"
	"github.com/polisproject/polisd/pkg/security"
	"github.com/polisproject/polisd/pkg/types"
)

// CreateOptions carries everything about a CreateContainer call beyond
// name, image, and command.
type CreateOptions struct {
	Env             map[string]string
	Labels          map[string]string
	Ports           []types.PortMapping
	Mounts          []types.VolumeMount
	Resources       types.ResourceLimits
	NetworkMode     types.NetworkMode
	WorkingDir      string
	SecurityProfile security.ProfileName
	AllowPull       bool
}

// ListFilter narrows ListContainers. The zero value matches every
// container.
type ListFilter struct {
	Status types.ContainerStatus
	Name   string
}

func (f ListFilter) matches(c *types.Container) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Name != "" && c.Name != f.Name {
		return false
	}
	return true
}

// Manager is Runtime: it owns every Container record and drives
// the other subsystem managers through the fixed resource-acquisition
// order on create, and the reverse order on remove.
type Manager struct {
	mu         sync.RWMutex
	containers map[string]*types.Container // keyed by ContainerId.String()
	names      map[string]string           // name -> ContainerId.String()
	locks      sync.Map                    // ContainerId.String() -> *sync.Mutex, serializes per-container ops

	driver Driver
	images imageResolver
	ipam   ipAllocator
	bridge networkAttacher
	fw     firewallInstaller
	pf     portForwarder
	dns    dnsPublisher
	sec    securer
	vol    volumeResolver
	events *events.Broker
	health *healthMonitor
}

// New wires a Manager from the already-constructed subsystem managers.
// Each parameter is the composite entry point that package exposes for
// Runtime to call (e.g. security.Manager.Secure/Teardown, not its
// individual sub-managers); every concrete manager in this module
// already satisfies the corresponding narrow interface here.
func New(driver Driver, images imageResolver, ipamMgr ipAllocator, bridge networkAttacher, fw firewallInstaller, pf portForwarder, dnsMgr dnsPublisher, sec securer, vol volumeResolver, broker *events.Broker) *Manager {
	return &Manager{
		containers: make(map[string]*types.Container),
		names:      make(map[string]string),
		driver:     driver,
		images:     images,
		ipam:       ipamMgr,
		bridge:     bridge,
		fw:         fw,
		pf:         pf,
		dns:        dnsMgr,
		sec:        sec,
		vol:        vol,
		events:     broker,
		health:     newHealthMonitor(),
	}
}

// Initialize prepares the default IP pool, the default bridge, and
// (implicitly, via security.ProfileDefault) the default seccomp
// profile — the bootstrap state every other operation assumes exists.
func (m *Manager) Initialize() error {
	_, subnet, _ := net.ParseCIDR("172.17.0.0/16")
	if err := m.ipam.CreatePool(ipam.DefaultPool, subnet, net.ParseIP("172.17.0.1")); err != nil {
		return err
	}
	if err := m.bridge.CreateDefaultBridge(); err != nil {
		return err
	}
	log.Info("runtime: initialized default pool and bridge")
	return nil
}

// CreateContainer validates name uniqueness, resolves image, then
// atomically acquires every other resource in the fixed order
// {IpAllocate, BridgeAttach, FirewallInstall, PortForwardInstall,
// DnsPublish, Secure}. Any step failing unwinds the steps that already
// succeeded, in reverse, before returning the root-cause error.
func (m *Manager) CreateContainer(ctx context.Context, name, image string, command []string, opts CreateOptions) (types.ContainerId, error) {
	m.mu.Lock()
	if _, exists := m.names[name]; exists {
		m.mu.Unlock()
		return types.ContainerId{}, types.NewConflictError(fmt.Sprintf("runtime: container name %q already in use", name))
	}
	id := types.NewContainerId()
	m.names[name] = id.String()
	m.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			m.mu.Lock()
			delete(m.names, name)
			m.mu.Unlock()
		}
	}()

	var rollbacks []func()
	rollback := func() {
		for i := len(rollbacks) - 1; i >= 0; i-- {
			rollbacks[i]()
		}
	}

	img, imageID, err := m.resolveImage(ctx, image, opts.AllowPull)
	if err != nil {
		return types.ContainerId{}, err
	}
	if err := m.images.IncRef(imageID); err != nil {
		return types.ContainerId{}, err
	}
	rollbacks = append(rollbacks, func() { _ = m.images.DecRef(imageID) })

	env := opts.Env
	if env == nil {
		env = map[string]string{}
	}
	labels := opts.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	networkMode := opts.NetworkMode
	if networkMode.Kind == "" {
		networkMode = types.NetworkMode{Kind: types.NetworkModeBridge}
	}

	container := &types.Container{
		ID:           id,
		Name:         name,
		Image:        img,
		Status:       types.StatusCreated,
		CreatedAt:    time.Now(),
		Command:      command,
		WorkingDir:   opts.WorkingDir,
		Env:          env,
		Labels:       labels,
		Resources:    opts.Resources,
		NetworkMode:  networkMode,
		Ports:        opts.Ports,
		Mounts:       opts.Mounts,
		SecurityName: name,
		ImageID:      imageID,
	}

	cid := id.String()

	ip, _, err := m.ipam.Allocate(cid, ipam.DefaultPool)
	if err != nil {
		rollback()
		return types.ContainerId{}, err
	}
	rollbacks = append(rollbacks, func() { _ = m.ipam.Deallocate(cid, ipam.DefaultPool) })
	container.IPAddress = ip.String()

	if err := m.bridge.SetupContainerNetwork(cid, ip, 0); err != nil {
		rollback()
		return types.ContainerId{}, err
	}
	rollbacks = append(rollbacks, func() { _ = m.bridge.CleanupContainerNetwork(cid) })

	ruleID, err := m.fw.CreateContainerRule(cid, types.ActionAllow)
	if err != nil {
		rollback()
		return types.ContainerId{}, err
	}
	rollbacks = append(rollbacks, func() { _ = m.fw.RemoveRule(firewall.ChainFilter, ruleID) })

	var pfRuleIDs []string
	rollbacks = append(rollbacks, func() {
		for _, r := range pfRuleIDs {
			_ = m.pf.RemoveRule(r)
		}
	})
	for _, p := range container.Ports {
		ruleID, err := m.pf.CreateContainerForwarding(container.IPAddress, p.ContainerPort, p.HostPort, p.Protocol)
		if err != nil {
			rollback()
			return types.ContainerId{}, err
		}
		pfRuleIDs = append(pfRuleIDs, ruleID)
	}

	if err := m.dns.CreateContainerRecord(cid, ip); err != nil {
		rollback()
		return types.ContainerId{}, err
	}
	rollbacks = append(rollbacks, func() { _ = m.dns.RemoveRecord(dns.ZoneContainer, cid, types.DnsRecordA) })

	if _, err := m.sec.Secure(name, opts.SecurityProfile, opts.Resources); err != nil {
		rollback()
		return types.ContainerId{}, err
	}
	rollbacks = append(rollbacks, func() { _ = m.sec.Teardown(name) })

	mounts, err := m.resolveMounts(container.Mounts)
	if err != nil {
		rollback()
		return types.ContainerId{}, err
	}

	runtimeID, err := m.driver.CreateContainer(ctx, container, mounts)
	if err != nil {
		rollback()
		return types.ContainerId{}, err
	}
	container.RuntimeID = runtimeID

	committed = true
	m.mu.Lock()
	m.containers[cid] = container
	m.mu.Unlock()

	m.publish(events.EventContainerCreated, cid, fmt.Sprintf("container %s created", name))
	return id, nil
}

// resolveImage confirms ref is present in the image store, pulling it
// first when absent and allowPull is set, and returns both its parsed
// (registry, repository, tag) form for the container record and the
// image store id the container's refcount is held against.
func (m *Manager) resolveImage(ctx context.Context, ref string, allowPull bool) (types.ImageRef, string, error) {
	img, err := m.images.Get(ref)
	if err != nil {
		if !allowPull {
			return types.ImageRef{}, "", err
		}
		img, err = m.images.Pull(ctx, ref)
		if err != nil {
			return types.ImageRef{}, "", err
		}
	}
	parsed, err := imagestore.ParseImageRef(ref)
	if err != nil {
		return types.ImageRef{}, "", err
	}
	return parsed, img.ID, nil
}

func (m *Manager) resolveMounts(mounts []types.VolumeMount) ([]specs.Mount, error) {
	out := make([]specs.Mount, 0, len(mounts))
	for _, vm := range mounts {
		hostPath, err := m.vol.Resolve(vm)
		if err != nil {
			return nil, err
		}
		options := []string{"bind"}
		if vm.ReadOnly {
			options = append(options, "ro")
		}
		out = append(out, specs.Mount{
			Source:      hostPath,
			Destination: vm.Destination,
			Type:        "bind",
			Options:     options,
		})
	}
	return out, nil
}

// StartContainer spawns the entrypoint for a container in Created or
// Stopped. On spawn failure the container remains in its prior status.
func (m *Manager) StartContainer(ctx context.Context, id types.ContainerId) error {
	container, err := m.lookup(id)
	if err != nil {
		return err
	}

	lock := m.containerLock(id.String())
	lock.Lock()
	defer lock.Unlock()

	if container.Status != types.StatusCreated && container.Status != types.StatusStopped {
		return types.NewConflictError(fmt.Sprintf("runtime: container %s is %s, not Created or Stopped", container.Name, container.Status))
	}

	if err := m.driver.StartContainer(ctx, container.RuntimeID); err != nil {
		return err
	}

	now := time.Now()
	container.Status = types.StatusRunning
	container.StartedAt = &now
	container.FinishedAt = nil
	container.ExitCode = nil

	if img, err := m.images.Get(container.ImageID); err == nil {
		m.health.start(id.String(), img.Config.Healthcheck)
	}

	m.publish(events.EventContainerStarted, id.String(), fmt.Sprintf("container %s started", container.Name))
	return nil
}

// StopContainer requires Running or Paused, sends a termination signal
// through the driver, and records the real exit code and finished_at.
// Stopping an already-Stopped container is a no-op.
func (m *Manager) StopContainer(ctx context.Context, id types.ContainerId, grace time.Duration) error {
	container, err := m.lookup(id)
	if err != nil {
		return err
	}

	lock := m.containerLock(id.String())
	lock.Lock()
	defer lock.Unlock()

	if container.Status == types.StatusStopped {
		return nil
	}
	if container.Status != types.StatusRunning && container.Status != types.StatusPaused {
		return types.NewConflictError(fmt.Sprintf("runtime: container %s is %s, not Running or Paused", container.Name, container.Status))
	}

	exitCode, err := m.driver.StopContainer(ctx, container.RuntimeID, grace)
	if err != nil {
		return err
	}

	now := time.Now()
	container.Status = types.StatusStopped
	container.FinishedAt = &now
	container.ExitCode = &exitCode

	m.health.stop(id.String())

	m.publish(events.EventContainerStopped, id.String(), fmt.Sprintf("container %s stopped (exit %d)", container.Name, exitCode))
	return nil
}

// PauseContainer freezes a Running container's processes via the
// freezer cgroup.
func (m *Manager) PauseContainer(ctx context.Context, id types.ContainerId) error {
	container, err := m.lookup(id)
	if err != nil {
		return err
	}
	lock := m.containerLock(id.String())
	lock.Lock()
	defer lock.Unlock()

	if container.Status != types.StatusRunning {
		return types.NewConflictError(fmt.Sprintf("runtime: container %s is %s, not Running", container.Name, container.Status))
	}
	if err := m.driver.PauseContainer(ctx, container.RuntimeID); err != nil {
		return err
	}
	container.Status = types.StatusPaused
	m.publish(events.EventContainerPaused, id.String(), fmt.Sprintf("container %s paused", container.Name))
	return nil
}

// UnpauseContainer thaws a Paused container back to Running.
func (m *Manager) UnpauseContainer(ctx context.Context, id types.ContainerId) error {
	container, err := m.lookup(id)
	if err != nil {
		return err
	}
	lock := m.containerLock(id.String())
	lock.Lock()
	defer lock.Unlock()

	if container.Status != types.StatusPaused {
		return types.NewConflictError(fmt.Sprintf("runtime: container %s is %s, not Paused", container.Name, container.Status))
	}
	if err := m.driver.UnpauseContainer(ctx, container.RuntimeID); err != nil {
		return err
	}
	container.Status = types.StatusRunning
	return nil
}

// RemoveContainer requires a non-Running status unless force is set,
// in which case it performs an internal Stop(grace=0) first. It then
// releases every resource acquired by CreateContainer in reverse
// order and drops the record.
func (m *Manager) RemoveContainer(ctx context.Context, id types.ContainerId, force bool) error {
	container, err := m.lookup(id)
	if err != nil {
		return err
	}

	if container.Status == types.StatusRunning || container.Status == types.StatusPaused {
		if !force {
			return types.NewConflictError(fmt.Sprintf("runtime: container %s is %s; remove requires force", container.Name, container.Status))
		}
		if err := m.StopContainer(ctx, id, 0); err != nil {
			return err
		}
	}

	cid := id.String()
	lock := m.containerLock(cid)
	lock.Lock()
	defer lock.Unlock()

	m.health.stop(cid)
	_ = m.sec.Teardown(container.Name)
	_ = m.dns.RemoveRecord(dns.ZoneContainer, cid, types.DnsRecordA)
	m.pf.ClearContainerRules(container.IPAddress)
	_ = m.fw.RemoveRule(firewall.ChainFilter, fmt.Sprintf("container-%s", cid))
	_ = m.bridge.CleanupContainerNetwork(cid)
	_ = m.ipam.Deallocate(cid, ipam.DefaultPool)
	_ = m.driver.DeleteContainer(ctx, container.RuntimeID)
	_ = m.images.DecRef(container.ImageID)

	m.mu.Lock()
	delete(m.containers, cid)
	delete(m.names, container.Name)
	m.mu.Unlock()
	m.locks.Delete(cid)

	m.publish(events.EventContainerRemoved, cid, fmt.Sprintf("container %s removed", container.Name))
	return nil
}

// GetContainer returns a copy of the container record for id. It waits
// behind any in-flight Start/Stop/Pause/Remove for this same container,
// but never behind one running against a different container.
func (m *Manager) GetContainer(id types.ContainerId) (types.Container, error) {
	container, err := m.lookup(id)
	if err != nil {
		return types.Container{}, err
	}
	lock := m.containerLock(id.String())
	lock.Lock()
	defer lock.Unlock()
	return *container, nil
}

// ListContainers returns a point-in-time snapshot of every container
// matching filter. It never blocks a concurrent state transition on any
// single container for longer than the brief per-container copy below.
func (m *Manager) ListContainers(filter ListFilter) []types.Container {
	m.mu.RLock()
	snapshot := make([]*types.Container, 0, len(m.containers))
	for _, c := range m.containers {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	out := make([]types.Container, 0, len(snapshot))
	for _, c := range snapshot {
		lock := m.containerLock(c.ID.String())
		lock.Lock()
		cp := *c
		lock.Unlock()
		if filter.matches(&cp) {
			out = append(out, cp)
		}
	}
	return out
}

// ContainerLogs returns up to the last tail lines captured from the
// container's combined stdout/stderr. tail <= 0 returns the whole file.
func (m *Manager) ContainerLogs(id types.ContainerId, tail int) ([]string, error) {
	container, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	runtimeID := container.RuntimeID
	m.mu.RUnlock()

	path := m.driver.LogPath(runtimeID)
	if path == "" {
		return nil, types.NewNotFoundError(fmt.Sprintf("runtime: no log capture configured for container %s", id.String()))
	}
	return tailLines(path, tail)
}

// containerLock returns the mutex serializing operations against a single
// container, creating it on first use. It is never held across operations
// on a different container, so StartContainer on A never blocks
// StopContainer on B.
func (m *Manager) containerLock(cid string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(cid, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (m *Manager) lookup(id types.ContainerId) (*types.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[id.String()]
	if !ok {
		return nil, types.NewNotFoundError(fmt.Sprintf("runtime: container %s not found", id.String()))
	}
	return c, nil
}

func (m *Manager) publish(kind events.EventType, containerID, message string) {
	if m.events == nil {
		return
	}
	m.events.Publish(&events.Event{
		ID:        containerID,
		Type:      kind,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  map[string]string{"container_id": containerID},
	})
}
