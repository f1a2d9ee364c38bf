package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルのメトリクスを探す。labelValueが空の場合は最初のメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name, labelValue string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" {
				return m
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == labelValue {
					return m
				}
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, labelValue)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordProvision_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProvision("created")
	c.RecordProvision("updated")
	c.RecordProvision("updated")

	if v := findMetric(t, reg, "twogether_provision_total", "updated").GetCounter().GetValue(); v != 2 {
		t.Errorf("provision_total{updated} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "twogether_provision_total", "created").GetCounter().GetValue(); v != 1 {
		t.Errorf("provision_total{created} = %v, want 1", v)
	}
}

func TestRecordLink_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLink("linked")
	c.RecordLink("PARTNER_ALREADY_LINKED")

	if v := findMetric(t, reg, "twogether_link_total", "PARTNER_ALREADY_LINKED").GetCounter().GetValue(); v != 1 {
		t.Errorf("link_total{PARTNER_ALREADY_LINKED} = %v, want 1", v)
	}
}

func TestRecordLinkLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLinkLatency(150 * time.Millisecond)

	h := findMetric(t, reg, "twogether_link_latency_seconds", "").GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
}

func TestRecordRepair_CountsByAction(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRepair(2, 1, 3)

	if v := findMetric(t, reg, "twogether_repair_total", "completed").GetCounter().GetValue(); v != 2 {
		t.Errorf("repair_total{completed} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "twogether_repair_total", "rolled_back").GetCounter().GetValue(); v != 1 {
		t.Errorf("repair_total{rolled_back} = %v, want 1", v)
	}
	if v := findMetric(t, reg, "twogether_repair_total", "cleared").GetCounter().GetValue(); v != 3 {
		t.Errorf("repair_total{cleared} = %v, want 3", v)
	}
}

func TestRecordHTTPStatus_CountsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(409)

	if v := findMetric(t, reg, "twogether_http_status_total", "409").GetCounter().GetValue(); v != 1 {
		t.Errorf("http_status_total{409} = %v, want 1", v)
	}
}
