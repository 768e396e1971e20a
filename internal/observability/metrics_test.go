package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersAllCollectors(t *testing.T) {
	m := NewMetrics()

	m.ExecutionsTotal.WithLabelValues("succeeded", "fast").Inc()
	m.StepDurationSeconds.WithLabelValues("command", "succeeded").Observe(1.5)
	m.QueueWaitSeconds.WithLabelValues("fast").Observe(2.0)
	m.SLAViolationsTotal.WithLabelValues("long").Inc()
	m.ActiveExecutions.Set(3)
	m.MutexContentionsTotal.WithLabelValues("asset-1").Inc()
	m.RBACDenialsTotal.WithLabelValues("command.exec").Inc()

	if got := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("succeeded", "fast")); got != 1 {
		t.Errorf("ExecutionsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveExecutions); got != 3 {
		t.Errorf("ActiveExecutions = %v, want 3", got)
	}

	count, err := testutil.GatherAndCount(m.Registry)
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if count == 0 {
		t.Error("expected registered metrics to be gatherable")
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	if a.Registry == b.Registry {
		t.Error("expected each Metrics instance to own a private registry")
	}
}
