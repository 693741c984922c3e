package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}

func TestSetTargetHealth(t *testing.T) {
	c := New()

	c.SetTargetHealth("primary", true)
	if v := getGaugeValue(c.targetHealth.WithLabelValues("primary")); v != 1 {
		t.Errorf("health = %v, want 1", v)
	}
	c.SetTargetHealth("primary", false)
	if v := getGaugeValue(c.targetHealth.WithLabelValues("primary")); v != 0 {
		t.Errorf("health = %v, want 0", v)
	}
}

func TestConnectCompleted(t *testing.T) {
	c := New()

	c.ConnectCompleted("primary", 10*time.Millisecond, true)
	c.ConnectCompleted("primary", 0, false)

	if v := getCounterValue(c.connectsTotal.WithLabelValues("primary", "success")); v != 1 {
		t.Errorf("success count = %v", v)
	}
	if v := getCounterValue(c.connectsTotal.WithLabelValues("primary", "failure")); v != 1 {
		t.Errorf("failure count = %v", v)
	}
}

func TestQueryMetricsGather(t *testing.T) {
	c := New()

	c.QueryCompleted("primary", 5*time.Millisecond, true)
	c.QueryTimeout("primary")

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "mysqlcheck_") {
			found[f.GetName()] = true
		}
	}
	for _, want := range []string{"mysqlcheck_queries_total", "mysqlcheck_query_duration_seconds", "mysqlcheck_query_timeouts_total"} {
		if !found[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}

func TestRemoveTarget(t *testing.T) {
	c := New()

	c.SetTargetHealth("gone", true)
	c.QueryTimeout("gone")
	c.RemoveTarget("gone")

	families, err := c.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "target" && l.GetValue() == "gone" {
					t.Errorf("metric %s still carries removed target", f.GetName())
				}
			}
		}
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.SetTargetHealth("x", true)
	if v := getGaugeValue(b.targetHealth.WithLabelValues("x")); v != 0 {
		t.Errorf("registries not independent: %v", v)
	}
}
