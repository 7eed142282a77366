package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// value reads a counter or gauge from the default registry. Labels must match
// exactly; a missing series reads as zero.
func value(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestRecordFetch(t *testing.T) {
	before := value(t, "otwatch_records_fetched_total", nil)
	failuresBefore := value(t, "otwatch_fetch_failures_total", nil)

	RecordFetch(5, nil)
	RecordFetch(0, errors.New("boom"))

	if got := value(t, "otwatch_records_fetched_total", nil) - before; got != 5 {
		t.Errorf("records_fetched_total delta = %v, want 5", got)
	}
	if got := value(t, "otwatch_fetch_failures_total", nil) - failuresBefore; got != 1 {
		t.Errorf("fetch_failures_total delta = %v, want 1", got)
	}
}

func TestRecordCycle(t *testing.T) {
	labels := map[string]string{"status": "completed"}
	before := value(t, "otwatch_cycles_total", labels)
	RecordCycle("completed", 1.5)
	if got := value(t, "otwatch_cycles_total", labels) - before; got != 1 {
		t.Errorf("cycles_total{completed} delta = %v, want 1", got)
	}
}

func TestRecordOracle(t *testing.T) {
	labels := map[string]string{"result": "fallback"}
	before := value(t, "otwatch_oracle_calls_total", labels)
	RecordOracle("fallback")
	RecordOracle("fallback")
	if got := value(t, "otwatch_oracle_calls_total", labels) - before; got != 2 {
		t.Errorf("oracle_calls_total{fallback} delta = %v, want 2", got)
	}
}

func TestRecordThreats(t *testing.T) {
	RecordThreats(2, 17)
	if got := value(t, "otwatch_threats_stored", nil); got != 17 {
		t.Errorf("threats_stored = %v, want 17", got)
	}
}
