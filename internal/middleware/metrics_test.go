package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func registeredMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()

	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	return m, reg
}

// findMetricFamily gathers the registry and returns the named family, or nil
// if nothing with that name has been observed yet.
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	for i := range families {
		if families[i].GetName() == name {
			return families[i]
		}
	}
	return nil
}

func TestMetrics_Register(t *testing.T) {
	m, reg := registeredMetrics(t)

	// Counters only appear in Gather output once they have a label set.
	m.IncRateLimitRequests("/feed", "user")
	m.IncRateLimitBlocked("/feed", "ip")

	for _, name := range []string{MetricRateLimitRequests, MetricRateLimitBlocked} {
		if findMetricFamily(t, reg, name) == nil {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}

func TestMetrics_RegisterTwiceFails(t *testing.T) {
	m, reg := registeredMetrics(t)
	if err := m.Register(reg); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestMetrics_IncRateLimitRequests(t *testing.T) {
	m, reg := registeredMetrics(t)

	m.IncRateLimitRequests("/feed", "user")
	m.IncRateLimitRequests("/feed", "user")
	m.IncRateLimitRequests("/composition", "ip")

	family := findMetricFamily(t, reg, MetricRateLimitRequests)
	if family == nil {
		t.Fatal("rate_limit_requests_total metric not found")
	}

	// Two distinct (endpoint, key_type) pairs.
	if len(family.GetMetric()) != 2 {
		t.Errorf("expected 2 metric entries, got %d", len(family.GetMetric()))
	}
}

func TestMetrics_IncRateLimitBlocked(t *testing.T) {
	m, reg := registeredMetrics(t)

	m.IncRateLimitBlocked("/feed", "user")
	m.IncRateLimitBlocked("/feed/snapshot", "user")
	m.IncRateLimitBlocked("/feed/snapshot", "user")

	family := findMetricFamily(t, reg, MetricRateLimitBlocked)
	if family == nil {
		t.Fatal("rate_limit_blocked_total metric not found")
	}
	if len(family.GetMetric()) != 2 {
		t.Errorf("expected 2 metric entries, got %d", len(family.GetMetric()))
	}
}

func TestMetrics_IncRateLimitRedisErrors(t *testing.T) {
	m, reg := registeredMetrics(t)

	m.IncRateLimitRedisErrors()
	m.IncRateLimitRedisErrors()

	family := findMetricFamily(t, reg, MetricRateLimitRedisErrors)
	if family == nil {
		t.Fatal("rate_limit_redis_errors_total metric not found")
	}
	if got := family.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("counter value = %f, want 2", got)
	}
}

func TestMetrics_Collectors(t *testing.T) {
	m := NewMetrics()

	collectors := m.Collectors()
	if len(collectors) != 7 {
		t.Errorf("expected 7 collectors, got %d", len(collectors))
	}
	for i, c := range collectors {
		if c == nil {
			t.Errorf("collector %d is nil", i)
		}
	}
}
