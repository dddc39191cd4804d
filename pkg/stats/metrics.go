package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polisd_containers_total",
			Help: "Total number of containers by status",
		},
		[]string{"status"},
	)

	ImagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polisd_images_total",
			Help: "Total number of images in the store",
		},
	)

	ContainerCPUUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polisd_container_cpu_usage_nanoseconds",
			Help: "Cumulative CPU time consumed by a container, in nanoseconds",
		},
		[]string{"container_id"},
	)

	ContainerMemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polisd_container_memory_usage_bytes",
			Help: "Current memory usage of a container, in bytes",
		},
		[]string{"container_id"},
	)

	ContainerDiskReadBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polisd_container_disk_read_bytes",
			Help: "Cumulative bytes read from block devices by a container",
		},
		[]string{"container_id"},
	)

	ContainerDiskWriteBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polisd_container_disk_write_bytes",
			Help: "Cumulative bytes written to block devices by a container",
		},
		[]string{"container_id"},
	)

	ContainerNetworkRxBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polisd_container_network_receive_bytes",
			Help: "Cumulative bytes received on a container's network interface",
		},
		[]string{"container_id"},
	)

	ContainerNetworkTxBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polisd_container_network_transmit_bytes",
			Help: "Cumulative bytes transmitted on a container's network interface",
		},
		[]string{"container_id"},
	)

	SampleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polisd_stats_sample_duration_seconds",
			Help:    "Time taken to sample every running container's usage",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		ContainersTotal,
		ImagesTotal,
		ContainerCPUUsage,
		ContainerMemoryUsage,
		ContainerDiskReadBytes,
		ContainerDiskWriteBytes,
		ContainerNetworkRxBytes,
		ContainerNetworkTxBytes,
		SampleDuration,
	)
}

// Handler returns the Prometheus scrape handler for /metrics/system.
func Handler() http.Handler {
	return promhttp.Handler()
}
