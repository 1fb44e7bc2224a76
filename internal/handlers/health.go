package handlers

import (
	"context"
	"net/http"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
	"github.com/sneakvault/orders/internal/platform/httpx"
	"github.com/sneakvault/orders/internal/repositories"
)

const defaultReadinessTimeout = 3 * time.Second

// HealthCheck reports whether a dependency can serve traffic.
type HealthCheck func(ctx context.Context) error

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves /healthz (liveness) and /readyz (dependency checks).
type HealthHandlers struct {
	build   BuildInfo
	probes  []repositories.DependencyProbe
	checker repositories.ReadinessChecker
	clock   func() time.Time
	timeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets version metadata reported by both endpoints.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthCheck registers a critical readiness check; its failure turns /readyz into a 503.
func WithHealthCheck(name string, check HealthCheck) HealthOption {
	return WithHealthProbe(repositories.DependencyProbe{Name: name, Critical: true, Check: check})
}

// WithHealthProbe registers a dependency probe. Non-critical probes only degrade the report.
func WithHealthProbe(probe repositories.DependencyProbe) HealthOption {
	return func(h *HealthHandlers) {
		if probe.Name != "" && probe.Check != nil {
			h.probes = append(h.probes, probe)
		}
	}
}

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithReadinessTimeout bounds each readiness check.
func WithReadinessTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHealthHandlers constructs HealthHandlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:   time.Now,
		timeout: defaultReadinessTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	if len(h.probes) > 0 {
		// Probes are validated by the options above, so construction cannot fail here.
		h.checker, _ = repositories.NewReadinessChecker(h.probes,
			repositories.WithProbeTimeout(h.timeout),
			repositories.WithProbeClock(h.clock),
		)
	}
	return h
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.payload("ok", nil))
}

// Readyz runs every registered probe and fails with 503 when a critical one fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		httpx.WriteJSON(w, http.StatusOK, h.payload(domain.HealthStatusOK, nil))
		return
	}

	report := h.checker.Check(r.Context())
	checks := make(map[string]any, len(report.Checks))
	for name, result := range report.Checks {
		entry := map[string]any{
			"status":     result.Status,
			"detail":     result.Detail,
			"critical":   result.Critical,
			"latency_ms": result.Latency.Milliseconds(),
		}
		if result.Error != "" {
			entry["error"] = result.Error
		}
		checks[name] = entry
	}

	code := http.StatusOK
	if !report.Ready() {
		code = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, h.payload(report.Status, checks))
}

func (h *HealthHandlers) payload(status string, checks map[string]any) map[string]any {
	now := h.clock()
	body := map[string]any{
		"status":    status,
		"uptime":    now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.build.Version != "" {
		body["version"] = h.build.Version
	}
	if h.build.CommitSHA != "" {
		body["commit_sha"] = h.build.CommitSHA
	}
	if h.build.Environment != "" {
		body["environment"] = h.build.Environment
	}
	if checks != nil {
		body["checks"] = checks
	}
	return body
}
