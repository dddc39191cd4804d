package runtime

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/polisproject/polisd/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace polisd creates every
	// container under, isolating it from any other containerd client on
	// the same host.
	DefaultNamespace = "polis"

	// DefaultSocketPath is used when NewContainerdDriver is given an
	// empty socket path.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Driver is the narrow interface Manager drives a container's actual
// OS-level process through. ContainerdDriver is the only production
// implementation; tests substitute a fake to exercise Manager's
// orchestration and rollback logic without a real containerd socket.
type Driver interface {
	PullImage(ctx context.Context, imageRef string) error
	CreateContainer(ctx context.Context, container *types.Container, mounts []specs.Mount) (string, error)
	StartContainer(ctx context.Context, runtimeID string) error
	StopContainer(ctx context.Context, runtimeID string, grace time.Duration) (exitCode int, err error)
	PauseContainer(ctx context.Context, runtimeID string) error
	UnpauseContainer(ctx context.Context, runtimeID string) error
	DeleteContainer(ctx context.Context, runtimeID string) error
	IsRunning(ctx context.Context, runtimeID string) bool
	GetContainerIP(ctx context.Context, runtimeID string) (string, error)
	LogPath(runtimeID string) string
}

// ContainerdDriver drives containers through containerd's client API:
// namespace isolation, resource-limit translation from ResourceLimits
// into cgroup CPU/memory constraints, and task lifecycle management.
type ContainerdDriver struct {
	client    *containerd.Client
	namespace string
	logDir    string
}

// NewContainerdDriver dials the containerd socket at socketPath
// (DefaultSocketPath if empty). logDir, if non-empty, is where each
// task's combined stdout/stderr is captured for the logs endpoint; if
// empty, tasks run with discarded I/O.
func NewContainerdDriver(socketPath, logDir string) (*ContainerdDriver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, types.NewIOError(fmt.Sprintf("runtime: connect to containerd at %s", socketPath), err)
	}

	return &ContainerdDriver{client: client, namespace: DefaultNamespace, logDir: logDir}, nil
}

// LogPath returns the file containerd's task I/O is captured to for
// runtimeID. Empty if this driver was built without a log directory.
func (d *ContainerdDriver) LogPath(runtimeID string) string {
	if d.logDir == "" {
		return ""
	}
	return filepath.Join(d.logDir, runtimeID+".log")
}

// Close releases the containerd client connection.
func (d *ContainerdDriver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

func (d *ContainerdDriver) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, d.namespace)
}

// PullImage pulls imageRef into the containerd content store and
// unpacks it for the configured snapshotter.
func (d *ContainerdDriver) PullImage(ctx context.Context, imageRef string) error {
	ctx = d.ctx(ctx)
	if _, err := d.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return types.NewIOError(fmt.Sprintf("runtime: pull image %s", imageRef), err)
	}
	return nil
}

// CreateContainer creates a containerd container object for c (no task
// yet — StartContainer spawns the process), applying env, resource
// limits, and any bind mounts (secrets, volumes, resolv.conf).
func (d *ContainerdDriver) CreateContainer(ctx context.Context, c *types.Container, mounts []specs.Mount) (string, error) {
	ctx = d.ctx(ctx)

	imageRef := c.Image.String()
	image, err := d.client.GetImage(ctx, imageRef)
	if err != nil {
		return "", types.NewNotFoundError(fmt.Sprintf("runtime: image %s not present in containerd content store: %v", imageRef, err))
	}

	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if len(c.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(c.Command...))
	}
	if c.WorkingDir != "" {
		opts = append(opts, oci.WithProcessCwd(c.WorkingDir))
	}

	if c.Resources.CPUQuota > 0 {
		shares := uint64(c.Resources.CPUQuota * 1024)
		period := uint64(100000)
		quota := int64(c.Resources.CPUQuota * float64(period))
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if c.Resources.MemoryLimit > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(c.Resources.MemoryLimit)))
	}
	if c.Resources.PidsLimit > 0 {
		opts = append(opts, oci.WithPidsLimit(int64(c.Resources.PidsLimit)))
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	id := c.ID.String()
	ctrdContainer, err := d.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", types.NewIOError(fmt.Sprintf("runtime: create containerd container %s", id), err)
	}
	return ctrdContainer.ID(), nil
}

// StartContainer creates and starts the task backing runtimeID.
func (d *ContainerdDriver) StartContainer(ctx context.Context, runtimeID string) error {
	ctx = d.ctx(ctx)

	container, err := d.client.LoadContainer(ctx, runtimeID)
	if err != nil {
		return types.NewNotFoundError(fmt.Sprintf("runtime: load container %s: %v", runtimeID, err))
	}

	creator := cio.NullIO
	if path := d.LogPath(runtimeID); path != "" {
		creator = cio.LogFile(path)
	}
	task, err := container.NewTask(ctx, creator)
	if err != nil {
		return types.NewIOError(fmt.Sprintf("runtime: create task for %s", runtimeID), err)
	}
	if err := task.Start(ctx); err != nil {
		return types.NewIOError(fmt.Sprintf("runtime: start task for %s", runtimeID), err)
	}
	return nil
}

// StopContainer sends SIGTERM, waits up to grace for exit, force-kills
// with SIGKILL past that deadline, then deletes the task and returns
// the real exit status containerd recorded — never a hardcoded value.
func (d *ContainerdDriver) StopContainer(ctx context.Context, runtimeID string, grace time.Duration) (int, error) {
	ctx = d.ctx(ctx)

	container, err := d.client.LoadContainer(ctx, runtimeID)
	if err != nil {
		return 0, types.NewNotFoundError(fmt.Sprintf("runtime: load container %s: %v", runtimeID, err))
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task: container was never started, nothing to stop.
		return 0, nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	statusC, err := task.Wait(ctx)
	if err != nil {
		return 0, types.NewIOError(fmt.Sprintf("runtime: wait on task %s", runtimeID), err)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return 0, types.NewIOError(fmt.Sprintf("runtime: send SIGTERM to %s", runtimeID), err)
	}

	var exitStatus containerd.ExitStatus
	select {
	case status := <-statusC:
		exitStatus = status
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return 0, types.NewIOError(fmt.Sprintf("runtime: send SIGKILL to %s", runtimeID), err)
		}
		exitStatus = <-statusC
	}

	if _, err := task.Delete(ctx); err != nil {
		return 0, types.NewIOError(fmt.Sprintf("runtime: delete task %s", runtimeID), err)
	}

	return int(exitStatus.ExitCode()), nil
}

// PauseContainer freezes runtimeID's task via the cgroup freezer.
func (d *ContainerdDriver) PauseContainer(ctx context.Context, runtimeID string) error {
	ctx = d.ctx(ctx)
	task, err := d.loadTask(ctx, runtimeID)
	if err != nil {
		return err
	}
	if err := task.Pause(ctx); err != nil {
		return types.NewIOError(fmt.Sprintf("runtime: pause %s", runtimeID), err)
	}
	return nil
}

// UnpauseContainer thaws a previously paused task.
func (d *ContainerdDriver) UnpauseContainer(ctx context.Context, runtimeID string) error {
	ctx = d.ctx(ctx)
	task, err := d.loadTask(ctx, runtimeID)
	if err != nil {
		return err
	}
	if err := task.Resume(ctx); err != nil {
		return types.NewIOError(fmt.Sprintf("runtime: unpause %s", runtimeID), err)
	}
	return nil
}

// DeleteContainer removes runtimeID's containerd container and its
// snapshot. Safe to call on an already-deleted or never-created id.
func (d *ContainerdDriver) DeleteContainer(ctx context.Context, runtimeID string) error {
	ctx = d.ctx(ctx)
	container, err := d.client.LoadContainer(ctx, runtimeID)
	if err != nil {
		return nil
	}
	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return types.NewIOError(fmt.Sprintf("runtime: delete container %s", runtimeID), err)
	}
	return nil
}

// IsRunning reports whether runtimeID has a task in the Running state.
func (d *ContainerdDriver) IsRunning(ctx context.Context, runtimeID string) bool {
	ctx = d.ctx(ctx)
	task, err := d.loadTask(ctx, runtimeID)
	if err != nil {
		return false
	}
	status, err := task.Status(ctx)
	return err == nil && status.Status == containerd.Running
}

func (d *ContainerdDriver) loadTask(ctx context.Context, runtimeID string) (containerd.Task, error) {
	container, err := d.client.LoadContainer(ctx, runtimeID)
	if err != nil {
		return nil, types.NewNotFoundError(fmt.Sprintf("runtime: load container %s: %v", runtimeID, err))
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, types.NewNotFoundError(fmt.Sprintf("runtime: no task for %s", runtimeID))
	}
	return task, nil
}

// GetContainerIP reads the IPv4 address bound to eth0 inside
// runtimeID's network namespace, by shelling out to nsenter+ip — there
// is no containerd API for interface state, only the PID of the task.
func (d *ContainerdDriver) GetContainerIP(ctx context.Context, runtimeID string) (string, error) {
	ctx = d.ctx(ctx)
	task, err := d.loadTask(ctx, runtimeID)
	if err != nil {
		return "", err
	}

	pid := task.Pid()
	if pid == 0 {
		return "", types.NewInternalError(fmt.Sprintf("runtime: task %s has no pid", runtimeID))
	}

	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", types.NewIOError(fmt.Sprintf("runtime: read network namespace for %s: %s", runtimeID, string(output)), err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(fields[1])
		if err != nil {
			return "", types.NewInternalError(fmt.Sprintf("runtime: parse eth0 address %q", fields[1]))
		}
		return ip.String(), nil
	}
	return "", types.NewNotFoundError(fmt.Sprintf("runtime: no eth0 address for %s", runtimeID))
}
