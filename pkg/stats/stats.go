package stats

import "time"

// ContainerStats is one sample of a single container's resource usage.
type ContainerStats struct {
	ContainerID    string
	SampledAt      time.Time
	CPUUsageNano   uint64
	MemoryUsage    uint64
	ProcessCount   int
	DiskReadBytes  uint64
	DiskWriteBytes uint64
	NetworkRxBytes uint64
	NetworkTxBytes uint64
}

// SystemStats is the aggregated counter snapshot /system/stats
// returns: container counts by status plus the total image count.
type SystemStats struct {
	SampledAt          time.Time
	ContainersByStatus map[string]int
	ContainersTotal    int
	ImagesTotal        int
}
