/*
Package health provides health check mechanisms for monitoring container health.

This package implements three checker kinds — HTTP, TCP, and Exec —
driven by a container's HEALTHCHECK configuration (set at build time or
via the run API). pkg/runtime polls a container's Checker on Interval,
tracks ConsecutiveFailures/ConsecutiveSuccesses, and flips the
container unhealthy after Retries consecutive failures, honoring
StartPeriod as a grace window before the first failure counts.

# Checker Interface

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

HTTPChecker issues a GET against a URL and treats any 2xx/3xx response
as healthy. TCPChecker dials an address and treats a successful connect
as healthy. ExecChecker runs a command inside the container's namespace
and treats exit code 0 as healthy.

# Usage

	cfg := health.DefaultConfig() // 30s interval, 10s timeout, 3 retries
	checker := health.NewTCPChecker("127.0.0.1:8080")
	status := health.NewStatus()

	result := checker.Check(ctx)
	status.Update(result, cfg)
	if !status.Healthy {
		// stop and restart, or surface via the container's status
	}
*/
package health
