package domain

import "time"

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but orders can still be taken.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the order store or another critical dependency is unavailable.
	HealthStatusError = "error"
)

// DependencyHealth describes the outcome of an individual dependency probe.
type DependencyHealth struct {
	Status    string
	Detail    string
	Error     string
	Critical  bool
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency probes for the readiness endpoint.
type ReadinessReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	GeneratedAt time.Time
}

// Ready reports whether the service should receive traffic.
func (r ReadinessReport) Ready() bool {
	return r.Status != HealthStatusError
}
