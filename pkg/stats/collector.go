package stats

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polisproject/polisd/pkg/bridgemgr"
	"github.com/polisproject/polisd/pkg/log"
	"github.com/polisproject/polisd/pkg/runtime"
	"github.com/polisproject/polisd/pkg/security"
	"github.com/polisproject/polisd/pkg/types"
)

// DefaultInterval is the sampling period Collector uses when none is
// given to New.
const DefaultInterval = 10 * time.Second

// ContainerEnumerator lists every live container the collector should
// sample, with its current status and name — Runtime's own record,
// not a filtered copy, since pkg/runtime already owns that state.
type ContainerEnumerator interface {
	ListContainers(filter runtime.ListFilter) []types.Container
}

// cgroupStatter is the narrow view of security.CgroupManager's usage
// query the collector drives.
type cgroupStatter interface {
	GetCgroupStats(name string) (security.CgroupStats, error)
}

// imageCounter is the slice of imagestore.Manager's API needed for the
// image-count half of SystemStats.
type imageCounter interface {
	List() []types.Image
}

// Collector periodically samples every running container's cgroup and
// network usage and updates both the Prometheus gauges and its own
// in-memory latest-sample table for ContainerStatsByID/SystemStats.
type Collector struct {
	mu       sync.RWMutex
	latest   map[string]ContainerStats // containerID -> most recent sample
	interval time.Duration
	done     chan struct{}

	containers ContainerEnumerator
	cgroups    cgroupStatter
	images     imageCounter
}

// New wires a Collector. interval <= 0 uses DefaultInterval.
func New(containers ContainerEnumerator, cgroups cgroupStatter, images imageCounter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		latest:     make(map[string]ContainerStats),
		interval:   interval,
		done:       make(chan struct{}),
		containers: containers,
		cgroups:    cgroups,
		images:     images,
	}
}

// Start begins the sampling loop in a new goroutine: one immediate
// collection, then one every interval, until Stop is called.
func (c *Collector) Start() {
	go func() {
		c.collect()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.done:
				return
			}
		}
	}()
}

// Stop ends the sampling loop. Safe to call at most once.
func (c *Collector) Stop() {
	close(c.done)
}

func (c *Collector) collect() {
	timer := time.Now()
	defer func() { SampleDuration.Observe(time.Since(timer).Seconds()) }()

	containers := c.containers.ListContainers(runtime.ListFilter{})

	statusCounts := make(map[string]int)
	for i := range containers {
		container := &containers[i]
		statusCounts[string(container.Status)]++
		if container.Status != types.StatusRunning {
			continue
		}
		sample, err := c.sampleContainer(container)
		if err != nil {
			log.Debug(fmt.Sprintf("stats: sample container %s: %v", container.ID.String(), err))
			continue
		}
		c.recordSample(sample)
	}
	for status, count := range statusCounts {
		ContainersTotal.WithLabelValues(status).Set(float64(count))
	}

	ImagesTotal.Set(float64(len(c.images.List())))
}

func (c *Collector) sampleContainer(container *types.Container) (ContainerStats, error) {
	cid := container.ID.String()

	usage, err := c.cgroups.GetCgroupStats(container.SecurityName)
	if err != nil {
		return ContainerStats{}, err
	}

	rx, tx := readVethCounters(bridgemgr.VethName(cid))

	return ContainerStats{
		ContainerID:    cid,
		SampledAt:      time.Now(),
		CPUUsageNano:   usage.CPUUsageNano,
		MemoryUsage:    usage.MemoryUsage,
		ProcessCount:   usage.ProcessCount,
		DiskReadBytes:  usage.DiskReadBytes,
		DiskWriteBytes: usage.DiskWriteBytes,
		NetworkRxBytes: rx,
		NetworkTxBytes: tx,
	}, nil
}

func (c *Collector) recordSample(sample ContainerStats) {
	c.mu.Lock()
	c.latest[sample.ContainerID] = sample
	c.mu.Unlock()

	labels := []string{sample.ContainerID}
	ContainerCPUUsage.WithLabelValues(labels...).Set(float64(sample.CPUUsageNano))
	ContainerMemoryUsage.WithLabelValues(labels...).Set(float64(sample.MemoryUsage))
	ContainerDiskReadBytes.WithLabelValues(labels...).Set(float64(sample.DiskReadBytes))
	ContainerDiskWriteBytes.WithLabelValues(labels...).Set(float64(sample.DiskWriteBytes))
	ContainerNetworkRxBytes.WithLabelValues(labels...).Set(float64(sample.NetworkRxBytes))
	ContainerNetworkTxBytes.WithLabelValues(labels...).Set(float64(sample.NetworkTxBytes))
}

// ContainerStatsByID returns the most recent sample for id, for
// /metrics/containers/{id}. The bool is false if no sample has been
// taken yet (container not Running, or not sampled since creation).
func (c *Collector) ContainerStatsByID(id string) (ContainerStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.latest[id]
	return s, ok
}

// SystemStats aggregates container counts by status and the image
// total, for /system/stats.
func (c *Collector) SystemStats() SystemStats {
	containers := c.containers.ListContainers(runtime.ListFilter{})
	byStatus := make(map[string]int)
	for _, container := range containers {
		byStatus[string(container.Status)]++
	}
	return SystemStats{
		SampledAt:          time.Now(),
		ContainersByStatus: byStatus,
		ContainersTotal:    len(containers),
		ImagesTotal:        len(c.images.List()),
	}
}

// readVethCounters reads cumulative rx/tx byte counters for a host
// interface from sysfs. Returns zeros if the interface is gone (e.g.
// the container was removed between listing and sampling).
func readVethCounters(iface string) (rx, tx uint64) {
	rx, _ = readSysfsCounter(iface, "rx_bytes")
	tx, _ = readSysfsCounter(iface, "tx_bytes")
	return rx, tx
}

func readSysfsCounter(iface, counter string) (uint64, error) {
	path := fmt.Sprintf("/sys/class/net/%s/statistics/%s", iface, counter)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
