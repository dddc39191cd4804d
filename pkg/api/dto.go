package api

import (
	"time"

	"github.com/polisproject/polisd/pkg/health"
	"github.com/polisproject/polisd/pkg/imagestore"
	"github.com/polisproject/polisd/pkg/runtime"
	"github.com/polisproject/polisd/pkg/security"
	"github.com/polisproject/polisd/pkg/stats"
	"github.com/polisproject/polisd/pkg/types"
)

// portMappingDTO is the wire form of a types.PortMapping.
type portMappingDTO struct {
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol,omitempty"`
	HostIP        string `json:"host_ip,omitempty"`
}

func (p portMappingDTO) toType() types.PortMapping {
	proto := types.ProtocolTCP
	switch p.Protocol {
	case "Udp", "udp", "UDP":
		proto = types.ProtocolUDP
	case "Both", "both":
		proto = types.ProtocolBoth
	}
	return types.PortMapping{
		HostPort:      p.HostPort,
		ContainerPort: p.ContainerPort,
		Protocol:      proto,
		HostIP:        p.HostIP,
	}
}

func portMappingFromType(p types.PortMapping) portMappingDTO {
	return portMappingDTO{
		HostPort:      p.HostPort,
		ContainerPort: p.ContainerPort,
		Protocol:      string(p.Protocol),
		HostIP:        p.HostIP,
	}
}

// volumeMountDTO is the wire form of a types.VolumeMount.
type volumeMountDTO struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode,omitempty"`
	ReadOnly    bool   `json:"read_only,omitempty"`
}

func (v volumeMountDTO) toType() types.VolumeMount {
	mode := types.MountTypeBind
	switch v.Mode {
	case "volume":
		mode = types.MountTypeVolume
	case "tmpfs":
		mode = types.MountTypeTmpfs
	}
	return types.VolumeMount{
		Source:      v.Source,
		Destination: v.Destination,
		Mode:        mode,
		ReadOnly:    v.ReadOnly,
	}
}

func volumeMountFromType(v types.VolumeMount) volumeMountDTO {
	return volumeMountDTO{
		Source:      v.Source,
		Destination: v.Destination,
		Mode:        string(v.Mode),
		ReadOnly:    v.ReadOnly,
	}
}

// resourceLimitsDTO is the wire form of types.ResourceLimits.
type resourceLimitsDTO struct {
	MemoryLimit int64   `json:"memory_limit,omitempty"`
	CPUQuota    float64 `json:"cpu_quota,omitempty"`
	PidsLimit   int64   `json:"pids_limit,omitempty"`
}

func (r resourceLimitsDTO) toType() types.ResourceLimits {
	return types.ResourceLimits{
		MemoryLimit: r.MemoryLimit,
		CPUQuota:    r.CPUQuota,
		PidsLimit:   r.PidsLimit,
	}
}

func resourceLimitsFromType(r types.ResourceLimits) resourceLimitsDTO {
	return resourceLimitsDTO{
		MemoryLimit: r.MemoryLimit,
		CPUQuota:    r.CPUQuota,
		PidsLimit:   r.PidsLimit,
	}
}

// createContainerRequest is the body of POST /containers.
type createContainerRequest struct {
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	Command         []string          `json:"command"`
	WorkingDir      string            `json:"working_dir,omitempty"`
	Environment     map[string]string `json:"environment,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	Ports           []portMappingDTO  `json:"ports,omitempty"`
	Volumes         []volumeMountDTO  `json:"volumes,omitempty"`
	ResourceLimits  resourceLimitsDTO `json:"resource_limits,omitempty"`
	SecurityProfile string            `json:"security_profile,omitempty"`
	AllowPull       bool              `json:"allow_pull,omitempty"`
}

func (r createContainerRequest) toOptions() runtime.CreateOptions {
	ports := make([]types.PortMapping, 0, len(r.Ports))
	for _, p := range r.Ports {
		ports = append(ports, p.toType())
	}
	mounts := make([]types.VolumeMount, 0, len(r.Volumes))
	for _, v := range r.Volumes {
		mounts = append(mounts, v.toType())
	}
	profile := security.ProfileDefault
	switch r.SecurityProfile {
	case "high-security":
		profile = security.ProfileHighSecurity
	case "privileged":
		profile = security.ProfilePrivileged
	}
	return runtime.CreateOptions{
		Env:             r.Environment,
		Labels:          r.Labels,
		Ports:           ports,
		Mounts:          mounts,
		Resources:       r.ResourceLimits.toType(),
		WorkingDir:      r.WorkingDir,
		SecurityProfile: profile,
		AllowPull:       r.AllowPull,
	}
}

// containerDTO is the wire form of a types.Container.
type containerDTO struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	ExitCode    *int              `json:"exit_code,omitempty"`
	Command     []string          `json:"command"`
	WorkingDir  string            `json:"working_dir,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Resources   resourceLimitsDTO `json:"resource_limits"`
	NetworkMode string            `json:"network_mode"`
	Ports       []portMappingDTO  `json:"ports,omitempty"`
	Volumes     []volumeMountDTO  `json:"volumes,omitempty"`
	IPAddress   string            `json:"ip_address,omitempty"`
}

func containerFromType(c types.Container) containerDTO {
	ports := make([]portMappingDTO, 0, len(c.Ports))
	for _, p := range c.Ports {
		ports = append(ports, portMappingFromType(p))
	}
	mounts := make([]volumeMountDTO, 0, len(c.Mounts))
	for _, m := range c.Mounts {
		mounts = append(mounts, volumeMountFromType(m))
	}
	return containerDTO{
		ID:          c.ID.String(),
		Name:        c.Name,
		Image:       c.Image.String(),
		Status:      string(c.Status),
		CreatedAt:   c.CreatedAt,
		StartedAt:   c.StartedAt,
		FinishedAt:  c.FinishedAt,
		ExitCode:    c.ExitCode,
		Command:     c.Command,
		WorkingDir:  c.WorkingDir,
		Environment: c.Env,
		Labels:      c.Labels,
		Resources:   resourceLimitsFromType(c.Resources),
		NetworkMode: string(c.NetworkMode.Kind),
		Ports:       ports,
		Volumes:     mounts,
		IPAddress:   c.IPAddress,
	}
}

// imageDTO is the wire form of a types.Image.
type imageDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Tag          string    `json:"tag"`
	Digest       string    `json:"digest"`
	TotalSize    int64     `json:"total_size"`
	CreatedAt    time.Time `json:"created_at"`
	Architecture string    `json:"architecture,omitempty"`
	OS           string    `json:"os,omitempty"`
	Layers       int       `json:"layer_count"`
	RefCount     int       `json:"ref_count"`
}

func imageFromType(img types.Image) imageDTO {
	return imageDTO{
		ID:           img.ID,
		Name:         img.Name,
		Tag:          img.Tag,
		Digest:       img.Digest,
		TotalSize:    img.TotalSize,
		CreatedAt:    img.CreatedAt,
		Architecture: img.Architecture,
		OS:           img.OS,
		Layers:       len(img.Layers),
		RefCount:     img.RefCount,
	}
}

// pullImageRequest is the body of POST /images/pull.
type pullImageRequest struct {
	Image string `json:"image"`
}

// buildImageRequest is the body of POST /images/build. context_dir and
// recipe_path are host-side paths, not upload data — the daemon builds
// against its own filesystem, the way `cmd/polisd` itself would invoke
// Builder.Build.
type buildImageRequest struct {
	ContextDir string `json:"context_dir"`
	RecipePath string `json:"recipe_path,omitempty"`
	Tag        string `json:"tag"`
}

// loginRequest is the body of POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authResultDTO is the response body of /auth/login and /auth/refresh.
type authResultDTO struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// systemInfoDTO answers GET /system/info.
type systemInfoDTO struct {
	Version         string `json:"version"`
	OS              string `json:"os"`
	Architecture    string `json:"architecture"`
	ContainersTotal int    `json:"containers_total"`
	ImagesTotal     int    `json:"images_total"`
}

func systemInfoFromCounts(version, goos, arch string, containers, images int) systemInfoDTO {
	return systemInfoDTO{
		Version:         version,
		OS:              goos,
		Architecture:    arch,
		ContainersTotal: containers,
		ImagesTotal:     images,
	}
}

// systemStatsDTO answers GET /system/stats.
type systemStatsDTO struct {
	SampledAt          time.Time      `json:"sampled_at"`
	ContainersByStatus map[string]int `json:"containers_by_status"`
	ContainersTotal    int            `json:"containers_total"`
	ImagesTotal        int            `json:"images_total"`
}

func systemStatsFromType(s stats.SystemStats) systemStatsDTO {
	return systemStatsDTO{
		SampledAt:          s.SampledAt,
		ContainersByStatus: s.ContainersByStatus,
		ContainersTotal:    s.ContainersTotal,
		ImagesTotal:        s.ImagesTotal,
	}
}

// containerStatsDTO answers GET /metrics/containers/{id}.
type containerStatsDTO struct {
	ContainerID    string    `json:"container_id"`
	SampledAt      time.Time `json:"sampled_at"`
	CPUUsageNano   uint64    `json:"cpu_usage_nanoseconds"`
	MemoryUsage    uint64    `json:"memory_usage_bytes"`
	ProcessCount   int       `json:"process_count"`
	DiskReadBytes  uint64    `json:"disk_read_bytes"`
	DiskWriteBytes uint64    `json:"disk_write_bytes"`
	NetworkRxBytes uint64    `json:"network_rx_bytes"`
	NetworkTxBytes uint64    `json:"network_tx_bytes"`
}

func containerStatsFromType(s stats.ContainerStats) containerStatsDTO {
	return containerStatsDTO{
		ContainerID:    s.ContainerID,
		SampledAt:      s.SampledAt,
		CPUUsageNano:   s.CPUUsageNano,
		MemoryUsage:    s.MemoryUsage,
		ProcessCount:   s.ProcessCount,
		DiskReadBytes:  s.DiskReadBytes,
		DiskWriteBytes: s.DiskWriteBytes,
		NetworkRxBytes: s.NetworkRxBytes,
		NetworkTxBytes: s.NetworkTxBytes,
	}
}

// healthStatusDTO answers GET /containers/{id}/health.
type healthStatusDTO struct {
	Healthy              bool      `json:"healthy"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastCheck            time.Time `json:"last_check,omitempty"`
	LastMessage          string    `json:"last_message,omitempty"`
}

func healthStatusFromType(s health.Status) healthStatusDTO {
	return healthStatusDTO{
		Healthy:              s.Healthy,
		ConsecutiveFailures:  s.ConsecutiveFailures,
		ConsecutiveSuccesses: s.ConsecutiveSuccesses,
		LastCheck:            s.LastCheck,
		LastMessage:          s.LastResult.Message,
	}
}

// searchResultDTO is one hit from GET /images/search.
type searchResultDTO struct {
	Registry   string `json:"registry"`
	Repository string `json:"repository"`
	StarCount  int    `json:"star_count"`
}

func searchResultFromType(r imagestore.SearchResult) searchResultDTO {
	return searchResultDTO{Registry: r.Registry, Repository: r.Repository, StarCount: r.StarCount}
}
