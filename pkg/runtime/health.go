package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/polisproject/polisd/pkg/health"
	"github.com/polisproject/polisd/pkg/log"
	"github.com/polisproject/polisd/pkg/types"
)

// healthMonitor runs one background loop per container that declares a
// HealthcheckSpec on its image config, tracking a health.Status the way
// the spec's ImageConfig.Healthcheck/BuildRecipe HEALTHCHECK instruction
// describes. Containers without a Healthcheck are never tracked.
type healthMonitor struct {
	mu       sync.RWMutex
	statuses map[string]*health.Status
	cancels  map[string]context.CancelFunc
}

func newHealthMonitor() *healthMonitor {
	return &healthMonitor{
		statuses: make(map[string]*health.Status),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// start begins periodic checking for containerID using spec, replacing
// any monitor already running for it. No-op when spec is nil.
func (h *healthMonitor) start(containerID string, spec *types.HealthcheckSpec) {
	if spec == nil || len(spec.Command) == 0 {
		return
	}
	h.stop(containerID)

	cfg := health.Config{
		Interval:    spec.Interval,
		Timeout:     spec.Timeout,
		Retries:     spec.Retries,
		StartPeriod: spec.StartPeriod,
	}
	if cfg.Interval <= 0 {
		cfg.Interval = health.DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = health.DefaultConfig().Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = health.DefaultConfig().Retries
	}

	checker := health.NewExecChecker(spec.Command).WithTimeout(cfg.Timeout).WithContainer(containerID)
	status := health.NewStatus()

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.statuses[containerID] = status
	h.cancels[containerID] = cancel
	h.mu.Unlock()

	go h.run(ctx, containerID, checker, status, cfg)
}

func (h *healthMonitor) run(ctx context.Context, containerID string, checker *health.ExecChecker, status *health.Status, cfg health.Config) {
	logger := log.WithComponent("runtime.health")
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if status.InStartPeriod(cfg) {
				continue
			}
			result := checker.Check(ctx)
			h.mu.Lock()
			status.Update(result, cfg)
			healthy := status.Healthy
			h.mu.Unlock()
			if !healthy {
				logger.Warn().Str("container", containerID).Str("message", result.Message).Msg("health check failing")
			}
		}
	}
}

// stop halts the monitor for containerID, if any, and drops its status.
func (h *healthMonitor) stop(containerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[containerID]; ok {
		cancel()
		delete(h.cancels, containerID)
	}
	delete(h.statuses, containerID)
}

// status returns the current health.Status for containerID, if it is
// being monitored.
func (h *healthMonitor) status(containerID string) (health.Status, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.statuses[containerID]
	if !ok {
		return health.Status{}, false
	}
	return *s, true
}

// ContainerHealth reports the health.Status last observed for id, if
// its image declares a Healthcheck and the container has been started
// at least once since.
func (m *Manager) ContainerHealth(id types.ContainerId) (health.Status, bool) {
	return m.health.status(id.String())
}
