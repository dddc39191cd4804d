package runtime

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/require"

	"github.com/polisproject/polisd/pkg/dns"
	"github.com/polisproject/polisd/pkg/firewall"
	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/polisproject/polisd/pkg/ipam"
	"github.com/polisproject/polisd/pkg/portforward"
	"github.com/polisproject/polisd/pkg/security"
	"github.com/polisproject/polisd/pkg/types"
	"github.com/polisproject/polisd/pkg/volume"
)

// fakeBridge satisfies networkAttacher without touching netlink.
type fakeBridge struct {
	mu       sync.Mutex
	attached map[string]bool
	failAttach bool
}

func newFakeBridge() *fakeBridge { return &fakeBridge{attached: map[string]bool{}} }

func (b *fakeBridge) CreateDefaultBridge() error { return nil }

func (b *fakeBridge) SetupContainerNetwork(containerID string, containerIP net.IP, netnsFd int) error {
	if b.failAttach {
		return types.NewIOError("fake: attach failed", nil)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached[containerID] = true
	return nil
}

func (b *fakeBridge) CleanupContainerNetwork(containerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attached, containerID)
	return nil
}

// fakeSecurity satisfies securer without touching cgroupfs/namespaces.
type fakeSecurity struct {
	mu      sync.Mutex
	secured map[string]bool
	failSecure bool
}

func newFakeSecurity() *fakeSecurity { return &fakeSecurity{secured: map[string]bool{}} }

func (s *fakeSecurity) Secure(containerName string, name security.ProfileName, limits types.ResourceLimits) (types.SecurityProfile, error) {
	if s.failSecure {
		return types.SecurityProfile{}, types.NewIOError("fake: secure failed", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secured[containerName] = true
	return types.SecurityProfile{Resources: limits}, nil
}

func (s *fakeSecurity) Teardown(containerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secured, containerName)
	return nil
}

// fakeDriver satisfies Driver without a real containerd socket.
type fakeDriver struct {
	mu      sync.Mutex
	created map[string]*types.Container
	running map[string]bool
	exitCode int

	blockStop   chan struct{} // when set, StopContainer waits on it before returning
	stopEntered chan struct{} // closed right before StopContainer starts waiting on blockStop
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{created: map[string]*types.Container{}, running: map[string]bool{}}
}

func (d *fakeDriver) PullImage(ctx context.Context, imageRef string) error { return nil }

func (d *fakeDriver) CreateContainer(ctx context.Context, c *types.Container, mounts []specs.Mount) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	runtimeID := "rt-" + c.ID.String()
	d.created[runtimeID] = c
	return runtimeID, nil
}

func (d *fakeDriver) StartContainer(ctx context.Context, runtimeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[runtimeID] = true
	return nil
}

func (d *fakeDriver) StopContainer(ctx context.Context, runtimeID string, grace time.Duration) (int, error) {
	d.mu.Lock()
	block := d.blockStop
	entered := d.stopEntered
	d.mu.Unlock()
	if block != nil {
		if entered != nil {
			close(entered)
		}
		<-block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, runtimeID)
	return d.exitCode, nil
}

func (d *fakeDriver) PauseContainer(ctx context.Context, runtimeID string) error   { return nil }
func (d *fakeDriver) UnpauseContainer(ctx context.Context, runtimeID string) error { return nil }

func (d *fakeDriver) DeleteContainer(ctx context.Context, runtimeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.created, runtimeID)
	return nil
}

func (d *fakeDriver) IsRunning(ctx context.Context, runtimeID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[runtimeID]
}

func (d *fakeDriver) GetContainerIP(ctx context.Context, runtimeID string) (string, error) {
	return "10.0.0.1", nil
}

func (d *fakeDriver) LogPath(runtimeID string) string { return "" }

type testRig struct {
	manager *Manager
	driver  *fakeDriver
	bridge  *fakeBridge
	sec     *fakeSecurity
}

func newTestRig(t *testing.T) testRig {
	t.Helper()

	images, err := imagestore.NewManager(t.TempDir(), imagestore.DefaultRegistryConfig())
	require.NoError(t, err)
	require.NoError(t, images.Add(types.Image{ID: "sha256:demo", Digest: "sha256:demo"}, "library/alpine", "latest"))

	ipamMgr := ipam.NewManager()
	_, subnet, err := net.ParseCIDR("10.88.0.0/24")
	require.NoError(t, err)
	require.NoError(t, ipamMgr.CreatePool(ipam.DefaultPool, subnet, net.ParseIP("10.88.0.1")))

	fw, err := firewall.NewManager(nil)
	require.NoError(t, err)
	pf := portforward.NewManager(nil)
	dnsMgr := dns.NewManager()
	vol, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)

	bridge := newFakeBridge()
	sec := newFakeSecurity()
	driver := newFakeDriver()

	manager := New(driver, images, ipamMgr, bridge, fw, pf, dnsMgr, sec, vol, nil)
	return testRig{manager: manager, driver: driver, bridge: bridge, sec: sec}
}

func TestCreateContainerComposesResourcesInOrder(t *testing.T) {
	rig := newTestRig(t)

	id, err := rig.manager.CreateContainer(context.Background(), "web", "library/alpine:latest", []string{"sh"}, CreateOptions{})
	require.NoError(t, err)

	container, err := rig.manager.GetContainer(id)
	require.NoError(t, err)
	require.Equal(t, types.StatusCreated, container.Status)
	require.NotEmpty(t, container.IPAddress)
	require.True(t, rig.bridge.attached[id.String()])
	require.True(t, rig.sec.secured["web"])
	require.NotEmpty(t, container.RuntimeID)
}

func TestCreateContainerRejectsDuplicateName(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.manager.CreateContainer(context.Background(), "web", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)

	_, err = rig.manager.CreateContainer(context.Background(), "web", "library/alpine:latest", nil, CreateOptions{})
	require.Error(t, err)
	require.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestCreateContainerRollsBackOnLateFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.sec.failSecure = true

	_, err := rig.manager.CreateContainer(context.Background(), "web", "library/alpine:latest", nil, CreateOptions{})
	require.Error(t, err)

	// The name must be free again and no earlier resource left allocated.
	_, err = rig.manager.CreateContainer(context.Background(), "web", "library/alpine:latest", nil, CreateOptions{})
	require.Equal(t, types.KindIO, types.KindOf(err), "security still fails, but the name reservation from the first attempt must have been released")
}

func TestFullLifecycleTransitions(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.manager.CreateContainer(ctx, "web", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, rig.manager.StartContainer(ctx, id))
	container, err := rig.manager.GetContainer(id)
	require.NoError(t, err)
	require.Equal(t, types.StatusRunning, container.Status)
	require.NotNil(t, container.StartedAt)

	require.NoError(t, rig.manager.PauseContainer(ctx, id))
	container, _ = rig.manager.GetContainer(id)
	require.Equal(t, types.StatusPaused, container.Status)

	require.NoError(t, rig.manager.UnpauseContainer(ctx, id))
	container, _ = rig.manager.GetContainer(id)
	require.Equal(t, types.StatusRunning, container.Status)

	rig.driver.exitCode = 7
	require.NoError(t, rig.manager.StopContainer(ctx, id, time.Second))
	container, err = rig.manager.GetContainer(id)
	require.NoError(t, err)
	require.Equal(t, types.StatusStopped, container.Status)
	require.NotNil(t, container.ExitCode)
	require.Equal(t, 7, *container.ExitCode)
	require.NotNil(t, container.FinishedAt)

	// Stopping an already-stopped container is a no-op.
	require.NoError(t, rig.manager.StopContainer(ctx, id, time.Second))

	require.NoError(t, rig.manager.RemoveContainer(ctx, id, false))
	_, err = rig.manager.GetContainer(id)
	require.Error(t, err)
	require.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestRemoveContainerRunningWithoutForceConflicts(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.manager.CreateContainer(ctx, "web", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, rig.manager.StartContainer(ctx, id))

	err = rig.manager.RemoveContainer(ctx, id, false)
	require.Error(t, err)
	require.Equal(t, types.KindConflict, types.KindOf(err))

	require.NoError(t, rig.manager.RemoveContainer(ctx, id, true))
	_, err = rig.manager.GetContainer(id)
	require.Error(t, err)
}

func TestListContainersFiltersByStatus(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.manager.CreateContainer(ctx, "web", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)
	id2, err := rig.manager.CreateContainer(ctx, "worker", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, rig.manager.StartContainer(ctx, id2))

	running := rig.manager.ListContainers(ListFilter{Status: types.StatusRunning})
	require.Len(t, running, 1)
	require.Equal(t, "worker", running[0].Name)

	all := rig.manager.ListContainers(ListFilter{})
	require.Len(t, all, 2)
}

func TestCreateContainerIncrementsImageRefCountAndRemoveDecrements(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	id, err := rig.manager.CreateContainer(ctx, "web", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)

	img, err := rig.manager.images.Get("sha256:demo")
	require.NoError(t, err)
	require.Equal(t, 1, img.RefCount)

	id2, err := rig.manager.CreateContainer(ctx, "web2", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)
	img, err = rig.manager.images.Get("sha256:demo")
	require.NoError(t, err)
	require.Equal(t, 2, img.RefCount)

	require.NoError(t, rig.manager.RemoveContainer(ctx, id, false))
	img, err = rig.manager.images.Get("sha256:demo")
	require.NoError(t, err)
	require.Equal(t, 1, img.RefCount)

	require.NoError(t, rig.manager.RemoveContainer(ctx, id2, false))
	img, err = rig.manager.images.Get("sha256:demo")
	require.NoError(t, err)
	require.Equal(t, 0, img.RefCount)
}

func TestCreateContainerRollsBackImageRefCountOnLateFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.sec.failSecure = true

	_, err := rig.manager.CreateContainer(context.Background(), "web", "library/alpine:latest", nil, CreateOptions{})
	require.Error(t, err)

	img, err := rig.manager.images.Get("sha256:demo")
	require.NoError(t, err)
	require.Equal(t, 0, img.RefCount)
}

// TestStopOneContainerDoesNotBlockOperationsOnAnother proves Stop's
// blocking driver call is serialized per-container, not behind one
// manager-wide lock: a Stop in flight for "a" must not delay Start or
// GetContainer for "b".
func TestStopOneContainerDoesNotBlockOperationsOnAnother(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	idA, err := rig.manager.CreateContainer(ctx, "a", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, rig.manager.StartContainer(ctx, idA))

	idB, err := rig.manager.CreateContainer(ctx, "b", "library/alpine:latest", nil, CreateOptions{})
	require.NoError(t, err)

	block := make(chan struct{})
	entered := make(chan struct{})
	rig.driver.mu.Lock()
	rig.driver.blockStop = block
	rig.driver.stopEntered = entered
	rig.driver.mu.Unlock()

	stopDone := make(chan error, 1)
	go func() {
		stopDone <- rig.manager.StopContainer(ctx, idA, time.Second)
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("StopContainer never reached the driver call")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, rig.manager.StartContainer(ctx, idB))
		_, err := rig.manager.GetContainer(idB)
		require.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operations on container b blocked behind container a's in-flight Stop")
	}

	close(block)
	require.NoError(t, <-stopDone)
}
