/*
Package stats samples per-container CPU, memory, network, and disk
usage on a fixed interval and exposes both a pull-based Prometheus
endpoint and a point-in-time snapshot API for the REST layer's
/system/stats, /metrics/system, and /metrics/containers/{id} routes.

CPU, memory, and disk I/O come from the cgroup Runtime's security
layer already created for the container (security.CgroupManager.GetCgroupStats);
network counters are read from the host-side veth interface's sysfs
statistics, since a cgroup carries no network accounting of its own.
Collector runs a ticker loop: collect immediately on Start, then on
every tick, until Stop closes the done channel.
*/
package stats
