package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sneakvault/orders/internal/domain"
)

func TestReadinessCheckerAllHealthy(t *testing.T) {
	probes := []DependencyProbe{
		{
			Name:     "order_store",
			Critical: true,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(5 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
		{
			Name:  "events",
			Check: func(context.Context) error { return nil },
		},
	}

	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	checker, err := NewReadinessChecker(probes, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewReadinessChecker: %v", err)
	}

	report := checker.Check(context.Background())
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if !report.Ready() {
		t.Fatalf("expected report to be ready")
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	for name, check := range report.Checks {
		if check.CheckedAt != now {
			t.Fatalf("expected %s checkedAt %s, got %s", name, now, check.CheckedAt)
		}
	}
}

func TestReadinessCheckerNonCriticalFailureDegrades(t *testing.T) {
	checker, err := NewReadinessChecker([]DependencyProbe{
		{Name: "order_store", Critical: true, Check: func(context.Context) error { return nil }},
		{Name: "events", Check: func(context.Context) error { return errors.New("topic missing") }},
	})
	if err != nil {
		t.Fatalf("NewReadinessChecker: %v", err)
	}

	report := checker.Check(context.Background())
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if !report.Ready() {
		t.Fatalf("degraded report should still be ready")
	}
	if got := report.Checks["events"].Error; got != "topic missing" {
		t.Fatalf("expected error detail, got %q", got)
	}
}

func TestReadinessCheckerCriticalTimeout(t *testing.T) {
	checker, err := NewReadinessChecker([]DependencyProbe{
		{
			Name:     "order_store",
			Critical: true,
			Timeout:  10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	})
	if err != nil {
		t.Fatalf("NewReadinessChecker: %v", err)
	}

	report := checker.Check(context.Background())
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if report.Ready() {
		t.Fatalf("expected not ready")
	}
	if detail := report.Checks["order_store"].Detail; detail != "timeout" {
		t.Fatalf("expected timeout detail, got %s", detail)
	}
}

func TestNewReadinessCheckerValidation(t *testing.T) {
	if _, err := NewReadinessChecker(nil); err == nil {
		t.Fatalf("expected error for empty probes")
	}
	if _, err := NewReadinessChecker([]DependencyProbe{{Name: "x"}}); err == nil {
		t.Fatalf("expected error for missing check")
	}
	if _, err := NewReadinessChecker([]DependencyProbe{{Check: func(context.Context) error { return nil }}}); err == nil {
		t.Fatalf("expected error for missing name")
	}
}
