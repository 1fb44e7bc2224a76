package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyProbe describes a dependency check executed by the readiness endpoint.
// A failing critical probe marks the whole service unready; other failures only degrade it.
type DependencyProbe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// ReadinessOption customises the probe runner.
type ReadinessOption func(*probeRunner)

// WithProbeTimeout overrides the default timeout applied when a probe omits its own timeout.
func WithProbeTimeout(timeout time.Duration) ReadinessOption {
	return func(r *probeRunner) {
		if timeout > 0 {
			r.defaultTimeout = timeout
		}
	}
}

// WithProbeClock injects a custom clock primarily for tests.
func WithProbeClock(clock func() time.Time) ReadinessOption {
	return func(r *probeRunner) {
		if clock != nil {
			r.now = clock
		}
	}
}

type probeRunner struct {
	probes         []DependencyProbe
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ ReadinessChecker = (*probeRunner)(nil)

// NewReadinessChecker constructs a ReadinessChecker that runs the provided probes concurrently.
func NewReadinessChecker(probes []DependencyProbe, opts ...ReadinessOption) (ReadinessChecker, error) {
	if len(probes) == 0 {
		return nil, errors.New("readiness: at least one dependency probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" {
			return nil, errors.New("readiness: dependency probe missing name")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("readiness: dependency %s missing check function", probe.Name)
		}
	}

	runner := &probeRunner{
		probes:         append([]DependencyProbe(nil), probes...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

func (r *probeRunner) Check(ctx context.Context) domain.ReadinessReport {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(map[string]domain.DependencyHealth, len(r.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	wg.Add(len(r.probes))
	for _, probe := range r.probes {
		go func(probe DependencyProbe) {
			defer wg.Done()
			result := r.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = result
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		if result.Status == domain.HealthStatusOK {
			continue
		}
		if result.Critical {
			status = domain.HealthStatusError
			break
		}
		status = domain.HealthStatusDegraded
	}

	return domain.ReadinessReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}
}

func (r *probeRunner) run(ctx context.Context, probe DependencyProbe) domain.DependencyHealth {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := probe.Check(checkCtx)
	end := r.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Critical:  probe.Critical,
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
		result.Error = err.Error()
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
		result.Error = err.Error()
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = "unavailable"
		result.Error = err.Error()
	}
	return result
}
