package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルに一致するメトリクスを返す。見つからない場合はnil。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
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
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DoubleRegisterPanics は同一レジストリへの二重登録がパニックになることを検証する。
func TestNewCollector_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}

// TestRecordSnapshot_UpdatesCounterAndGauge はスナップショット数とミラーサイズを検証する。
func TestRecordSnapshot_UpdatesCounterAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSnapshot(3)
	c.RecordSnapshot(5)

	if m := findMetric(t, reg, "tripledger_snapshots_applied_total", nil); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("snapshots_applied_total = %v, want 2", m)
	}
	if m := findMetric(t, reg, "tripledger_mirror_records", nil); m == nil || m.GetGauge().GetValue() != 5 {
		t.Errorf("mirror_records = %v, want 5", m)
	}
}

// TestRecordAppend_ByResult は結果ラベル別のカウントとレイテンシを検証する。
func TestRecordAppend_ByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAppend("ok", 20*time.Millisecond)
	c.RecordAppend("ok", 30*time.Millisecond)
	c.RecordAppend("invalid", 0)

	if m := findMetric(t, reg, "tripledger_appends_total", map[string]string{"result": "ok"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("appends_total{result=ok} = %v, want 2", m)
	}
	if m := findMetric(t, reg, "tripledger_appends_total", map[string]string{"result": "invalid"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("appends_total{result=invalid} = %v, want 1", m)
	}
	m := findMetric(t, reg, "tripledger_append_latency_seconds", nil)
	if m == nil || m.GetHistogram().GetSampleCount() != 2 {
		t.Errorf("append_latency sample count = %v, want 2", m)
	}
}

// TestRecordBootstrap_ByMethod は確立経路別のカウントを検証する。
func TestRecordBootstrap_ByMethod(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBootstrap("anonymous")
	c.RecordAuthFailure("token")

	if m := findMetric(t, reg, "tripledger_identity_bootstrap_total", map[string]string{"method": "anonymous"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("identity_bootstrap_total{method=anonymous} = %v, want 1", m)
	}
	if m := findMetric(t, reg, "tripledger_sign_in_failures_total", map[string]string{"method": "token"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("sign_in_failures_total{method=token} = %v, want 1", m)
	}
}

// TestRecordHTTPStatus_ByCode はステータスコード別のカウントを検証する。
func TestRecordHTTPStatus_ByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(202)
	c.RecordHTTPStatus(400)
	c.RecordHTTPStatus(202)

	if m := findMetric(t, reg, "tripledger_http_status_total", map[string]string{"status_code": "202"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("http_status_total{202} = %v, want 2", m)
	}
}

// TestRecordCounters は単純なカウンタ群を検証する。
func TestRecordCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSubscriptionError()
	c.RecordRateLimited()
	c.RecordRateLimited()
	c.RecordTokensDeleted(4)

	tests := []struct {
		name string
		want float64
	}{
		{"tripledger_subscription_errors_total", 1},
		{"tripledger_rate_limited_total", 2},
		{"tripledger_expired_tokens_deleted_total", 4},
	}
	for _, tt := range tests {
		if m := findMetric(t, reg, tt.name, nil); m == nil || m.GetCounter().GetValue() != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, m, tt.want)
		}
	}
}
