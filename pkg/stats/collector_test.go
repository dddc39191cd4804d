package stats

import (
	"testing"
	"time"

	"github.com/polisproject/polisd/pkg/runtime"
	"github.com/polisproject/polisd/pkg/security"
	"github.com/polisproject/polisd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainers struct {
	containers []types.Container
}

func (f *fakeContainers) ListContainers(filter runtime.ListFilter) []types.Container {
	return f.containers
}

type fakeCgroups struct {
	byName map[string]security.CgroupStats
	err    error
}

func (f *fakeCgroups) GetCgroupStats(name string) (security.CgroupStats, error) {
	if f.err != nil {
		return security.CgroupStats{}, f.err
	}
	return f.byName[name], nil
}

type fakeImages struct {
	images []types.Image
}

func (f *fakeImages) List() []types.Image {
	return f.images
}

func runningContainer(id, securityName string) types.Container {
	cid, _ := types.ParseContainerId(id)
	return types.Container{
		ID:           cid,
		Name:         "c-" + id,
		Status:       types.StatusRunning,
		SecurityName: securityName,
	}
}

func TestCollectSamplesOnlyRunningContainers(t *testing.T) {
	running := runningContainer("11111111-1111-1111-1111-111111111111", "sec-a")
	stopped := runningContainer("22222222-2222-2222-2222-222222222222", "sec-b")
	stopped.Status = types.StatusStopped

	containers := &fakeContainers{containers: []types.Container{running, stopped}}
	cgroups := &fakeCgroups{byName: map[string]security.CgroupStats{
		"sec-a": {MemoryUsage: 1024, CPUUsageNano: 500, ProcessCount: 3, DiskReadBytes: 10, DiskWriteBytes: 20},
	}}
	images := &fakeImages{images: []types.Image{{ID: "sha256:demo"}}}

	c := New(containers, cgroups, images, time.Millisecond)
	c.collect()

	sample, ok := c.ContainerStatsByID(running.ID.String())
	require.True(t, ok)
	assert.Equal(t, uint64(1024), sample.MemoryUsage)
	assert.Equal(t, uint64(500), sample.CPUUsageNano)
	assert.Equal(t, 3, sample.ProcessCount)
	assert.Equal(t, uint64(10), sample.DiskReadBytes)
	assert.Equal(t, uint64(20), sample.DiskWriteBytes)

	_, ok = c.ContainerStatsByID(stopped.ID.String())
	assert.False(t, ok, "stopped containers are never sampled")
}

func TestCollectSkipsContainerOnCgroupError(t *testing.T) {
	running := runningContainer("33333333-3333-3333-3333-333333333333", "sec-c")
	containers := &fakeContainers{containers: []types.Container{running}}
	cgroups := &fakeCgroups{err: types.NewNotFoundError("no such cgroup")}
	images := &fakeImages{}

	c := New(containers, cgroups, images, time.Millisecond)
	c.collect()

	_, ok := c.ContainerStatsByID(running.ID.String())
	assert.False(t, ok)
}

func TestSystemStatsAggregatesByStatus(t *testing.T) {
	a := runningContainer("44444444-4444-4444-4444-444444444444", "sec-d")
	b := runningContainer("55555555-5555-5555-5555-555555555555", "sec-e")
	b.Status = types.StatusPaused

	containers := &fakeContainers{containers: []types.Container{a, b}}
	cgroups := &fakeCgroups{byName: map[string]security.CgroupStats{}}
	images := &fakeImages{images: []types.Image{{ID: "sha256:one"}, {ID: "sha256:two"}}}

	c := New(containers, cgroups, images, time.Millisecond)
	sys := c.SystemStats()

	assert.Equal(t, 2, sys.ContainersTotal)
	assert.Equal(t, 1, sys.ContainersByStatus[string(types.StatusRunning)])
	assert.Equal(t, 1, sys.ContainersByStatus[string(types.StatusPaused)])
	assert.Equal(t, 2, sys.ImagesTotal)
}

func TestStartStopDoesNotPanic(t *testing.T) {
	containers := &fakeContainers{}
	cgroups := &fakeCgroups{byName: map[string]security.CgroupStats{}}
	images := &fakeImages{}

	c := New(containers, cgroups, images, time.Millisecond)
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()
}

func TestReadSysfsCounterMissingInterfaceReturnsZero(t *testing.T) {
	rx, tx := readVethCounters("veth-does-not-exist-on-this-host")
	assert.Equal(t, uint64(0), rx)
	assert.Equal(t, uint64(0), tx)
}
