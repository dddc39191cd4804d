package types

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// ContainerId is an opaque 128-bit identifier, unique for the lifetime
// of the daemon process and canonically rendered as a UUID.
type ContainerId struct {
	id uuid.UUID
}

// NewContainerId allocates a fresh ContainerId.
func NewContainerId() ContainerId {
	return ContainerId{id: uuid.New()}
}

// ParseContainerId parses the canonical UUID string form.
func ParseContainerId(s string) (ContainerId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ContainerId{}, NewValidationError(fmt.Sprintf("invalid container id %q: %v", s, err))
	}
	return ContainerId{id: id}, nil
}

func (c ContainerId) String() string {
	return c.id.String()
}

// IsZero reports whether c is the zero value.
func (c ContainerId) IsZero() bool {
	return c.id == uuid.Nil
}

// ContainerStatus is the state machine position of a Container.
type ContainerStatus string

const (
	StatusCreated ContainerStatus = "Created"
	StatusRunning ContainerStatus = "Running"
	StatusPaused  ContainerStatus = "Paused"
	StatusStopped ContainerStatus = "Stopped"
	StatusExited  ContainerStatus = "Exited"
	StatusDead    ContainerStatus = "Dead"
)

// NetworkModeKind enumerates the tagged variant of NetworkMode.
type NetworkModeKind string

const (
	NetworkModeBridge        NetworkModeKind = "Bridge"
	NetworkModeHost          NetworkModeKind = "Host"
	NetworkModeNone          NetworkModeKind = "None"
	NetworkModeJoinContainer NetworkModeKind = "JoinContainer"
	NetworkModeCustom        NetworkModeKind = "Custom"
)

// NetworkMode selects how a container's networking is configured.
type NetworkMode struct {
	Kind          NetworkModeKind
	JoinContainer ContainerId // set iff Kind == NetworkModeJoinContainer
	CustomName    string      // set iff Kind == NetworkModeCustom
}

// Protocol is a transport protocol for a PortMapping or firewall rule.
type Protocol string

const (
	ProtocolTCP  Protocol = "Tcp"
	ProtocolUDP  Protocol = "Udp"
	ProtocolBoth Protocol = "Both"
)

// PortMapping binds a host port to a container port.
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      Protocol
	HostIP        string // empty means all interfaces
}

// MountType enumerates the VolumeMount kinds.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// VolumeMount describes a single filesystem mount into a container.
type VolumeMount struct {
	Source      string
	Destination string
	Mode        MountType
	ReadOnly    bool
}

// ResourceLimits caps the resources a container (or its cgroup) may consume.
type ResourceLimits struct {
	MemoryLimit int64   // bytes, 0 = unlimited
	CPUQuota    float64 // cores, 0 = unlimited
	PidsLimit   int64   // 0 = unlimited
}

// Container is the mutable record Runtime owns for a single container.
// Fields are only ever mutated by pkg/runtime, under the registry
// lock for that container id.
type Container struct {
	ID           ContainerId
	Name         string
	Image        ImageRef
	Status       ContainerStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ExitCode     *int
	Command      []string
	WorkingDir   string
	Env          map[string]string
	Labels       map[string]string
	Resources    ResourceLimits
	NetworkMode  NetworkMode
	Ports        []PortMapping
	Mounts       []VolumeMount
	IPAddress    string // set once IPAM.Allocate has run
	RuntimeID    string // opaque id used by the containerd driver
	SecurityName string // cgroup/namespace key, defaults to Name
	ImageID      string // ImageStore id this container holds a refcount against
}

// CheckInvariants validates the structural invariants of a Container
// that do not require external state.
func (c *Container) CheckInvariants() error {
	if c.StartedAt != nil && c.Status == StatusCreated {
		return NewInternalError("started_at set while status is Created")
	}
	terminal := c.Status == StatusStopped || c.Status == StatusExited || c.Status == StatusDead
	if terminal {
		if c.FinishedAt == nil || c.ExitCode == nil {
			return NewInternalError("terminal status without finished_at/exit_code")
		}
	} else {
		if c.FinishedAt != nil || c.ExitCode != nil {
			return NewInternalError("non-terminal status carries finished_at/exit_code")
		}
	}
	if c.StartedAt != nil && c.FinishedAt != nil && c.FinishedAt.Before(*c.StartedAt) {
		return NewInternalError("finished_at precedes started_at")
	}
	return nil
}

// ImageRef is the parsed (registry, repository, tag|digest) triple.
type ImageRef struct {
	Registry   string
	Repository string
	Tag        string // mutually exclusive with Digest
	Digest     string
}

// String renders the display form `repo:tag` or `repo@digest`, with
// `registry/` prefixed to repo when Registry is set.
func (r ImageRef) String() string {
	repo := r.Repository
	if r.Registry != "" {
		repo = r.Registry + "/" + r.Repository
	}
	if r.Digest != "" {
		return repo + "@" + r.Digest
	}
	tag := r.Tag
	if tag == "" {
		tag = "latest"
	}
	return repo + ":" + tag
}

// ImageConfig is the exec configuration carried by an Image.
type ImageConfig struct {
	Entrypoint   []string
	Cmd          []string
	Env          map[string]string
	WorkingDir   string
	ExposedPorts []PortMapping
	Volumes      []string
	Labels       map[string]string
	User         string
	StopSignal   string
	Healthcheck  *HealthcheckSpec
	Shell        []string
}

// HealthcheckSpec mirrors the BuildRecipe HEALTHCHECK instruction.
type HealthcheckSpec struct {
	Command     []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// Layer is a content-addressed filesystem layer, refcounted by the
// images that reference it.
type Layer struct {
	Digest    string
	Size      int64
	MediaType string
}

// Image is the content-addressed unit produced by Pull or Build.
type Image struct {
	ID           string // == digest of the image config
	Name         string
	Tag          string
	Digest       string
	TotalSize    int64
	CreatedAt    time.Time
	Architecture string
	OS           string
	Layers       []Layer
	Config       ImageConfig
	RefCount     int
}

// IpPool is an IPAM pool covering one subnet.
type IpPool struct {
	Name    string
	Subnet  *net.IPNet
	Gateway net.IP
}

// Bridge is a software L2 switch connecting container veths.
type Bridge struct {
	Name       string
	Gateway    net.IP
	Subnet     *net.IPNet
	MTU        int
	Interfaces []string
	Enabled    bool
}

// FirewallAction is the terminal disposition of a matched firewall rule.
type FirewallAction string

const (
	ActionAllow  FirewallAction = "Allow"
	ActionDeny   FirewallAction = "Deny"
	ActionReject FirewallAction = "Reject"
)

// FirewallRule matches on a subset of the 5-tuple.
type FirewallRule struct {
	ID        string
	Protocol  Protocol
	SrcIP     string
	SrcPort   int
	DstIP     string
	DstPort   int
	Interface string
	Action    FirewallAction
}

// FirewallChain is an ordered, first-match-wins rule list.
type FirewallChain struct {
	Name          string
	Rules         []FirewallRule
	DefaultAction FirewallAction
}

// DnsRecordType enumerates the record kinds DNS supports.
type DnsRecordType string

const (
	DnsRecordA     DnsRecordType = "A"
	DnsRecordCNAME DnsRecordType = "CNAME"
)

// DnsRecord is one record value under a DnsZone fqdn key.
type DnsRecord struct {
	Type  DnsRecordType
	Value string
	TTL   time.Duration
}

// DnsZone is an authoritative local zone.
type DnsZone struct {
	Name    string
	TTL     time.Duration
	Records map[string][]DnsRecord // fqdn -> records
}

// PortForwardRule is a host->container port forward.
type PortForwardRule struct {
	ID            string
	HostIP        string
	HostPort      int
	ContainerIP   string
	ContainerPort int
	Protocol      Protocol
	Enabled       bool
}

// Conflicts reports whether r and other share (host_ip, host_port) with
// overlapping protocols, per the conflict predicate.
func (r PortForwardRule) Conflicts(other PortForwardRule) bool {
	if !r.Enabled || !other.Enabled {
		return false
	}
	if r.HostIP != other.HostIP || r.HostPort != other.HostPort {
		return false
	}
	if r.Protocol == ProtocolBoth || other.Protocol == ProtocolBoth {
		return true
	}
	return r.Protocol == other.Protocol
}

// NamespaceType enumerates the kernel namespaces SecurityMgr can engage.
type NamespaceType string

const (
	NamespacePID    NamespaceType = "PID"
	NamespaceNet    NamespaceType = "Network"
	NamespaceMnt    NamespaceType = "Mount"
	NamespaceUTS    NamespaceType = "UTS"
	NamespaceIPC    NamespaceType = "IPC"
	NamespaceUser   NamespaceType = "User"
	NamespaceCgroup NamespaceType = "Cgroup"
)

// Capability is one entry of the canonical Linux capability enumeration
// used by SecurityMgr's capability presets.
type Capability string

// CapabilitySet is the three-set {effective, permitted, inheritable}
// grouping.
type CapabilitySet struct {
	Effective   []Capability
	Permitted   []Capability
	Inheritable []Capability
}

// SeccompAction is the disposition attached to a seccomp rule.
type SeccompAction string

const (
	SeccompAllow SeccompAction = "Allow"
	SeccompDeny  SeccompAction = "Deny"
	SeccompTrap  SeccompAction = "Trap"
	SeccompKill  SeccompAction = "Kill"
	SeccompTrace SeccompAction = "Trace"
	SeccompLog   SeccompAction = "Log"
)

// SeccompRule maps a set of syscall names to an action, with optional
// argument constraints.
type SeccompRule struct {
	Syscalls []string
	Action   SeccompAction
	Args     []SeccompArgConstraint
}

// SeccompArgConstraint constrains one syscall argument.
type SeccompArgConstraint struct {
	Index int
	Value uint64
	Op    string // "eq", "ne", "gt", "lt", "masked_eq"
}

// SeccompProfile is a named policy.
type SeccompProfile struct {
	Name          string
	DefaultAction SeccompAction
	Rules         []SeccompRule
}

// SecurityProfile is the per-container composite.
type SecurityProfile struct {
	Namespaces      []NamespaceType
	CgroupPath      string
	Resources       ResourceLimits
	Capabilities    CapabilitySet
	SeccompProfile  string
	ReadOnlyRootfs  bool
	NoNewPrivileges bool
}

// BuildInstructionKind enumerates the recipe instruction keywords.
type BuildInstructionKind string

const (
	InstrFrom        BuildInstructionKind = "FROM"
	InstrRun         BuildInstructionKind = "RUN"
	InstrCmd         BuildInstructionKind = "CMD"
	InstrLabel       BuildInstructionKind = "LABEL"
	InstrExpose      BuildInstructionKind = "EXPOSE"
	InstrEnv         BuildInstructionKind = "ENV"
	InstrAdd         BuildInstructionKind = "ADD"
	InstrCopy        BuildInstructionKind = "COPY"
	InstrEntrypoint  BuildInstructionKind = "ENTRYPOINT"
	InstrVolume      BuildInstructionKind = "VOLUME"
	InstrUser        BuildInstructionKind = "USER"
	InstrWorkdir     BuildInstructionKind = "WORKDIR"
	InstrArg         BuildInstructionKind = "ARG"
	InstrOnbuild     BuildInstructionKind = "ONBUILD"
	InstrStopSignal  BuildInstructionKind = "STOPSIGNAL"
	InstrHealthcheck BuildInstructionKind = "HEALTHCHECK"
	InstrShell       BuildInstructionKind = "SHELL"
	InstrComment     BuildInstructionKind = "#"
)

// BuildInstruction is one parsed line of a BuildRecipe.
type BuildInstruction struct {
	Kind BuildInstructionKind
	Args []string
	Raw  string
	Line int
}

// BuildRecipe is the ordered instruction list plus derived fields.
type BuildRecipe struct {
	Instructions []BuildInstruction
	BaseImage    ImageRef
	WorkingDir   string
	User         string
	ExposedPorts []PortMapping
	Volumes      []string
	Env          map[string]string
	Labels       map[string]string
	StopSignal   string
	Healthcheck  *HealthcheckSpec
	Shell        []string
}

// BuildCacheEntry is one admitted layer-cache slot.
type BuildCacheEntry struct {
	ContentHash     string
	InstructionText string
	LayerID         string
	CreatedAt       time.Time
	Size            int64
}

// AuthSession is a server-side record of a live authentication token.
type AuthSession struct {
	Token       string
	UserID      string
	Username    string
	Permissions map[string]struct{}
	ExpiresAt   time.Time
}

// HasPermission reports whether perm is granted by the session.
func (s AuthSession) HasPermission(perm string) bool {
	_, ok := s.Permissions[perm]
	return ok
}

// User is an account that can authenticate against AuthMgr.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role groups a set of permission strings under a name.
type Role struct {
	Name        string
	Permissions []string
}
