// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期エンジン、IDブートストラップ、HTTP層から利用する。
type MetricsCollector interface {
	RecordSnapshot(records int)
	RecordSubscriptionError()
	RecordAppend(result string, duration time.Duration)
	RecordBootstrap(method string)
	RecordAuthFailure(method string)
	RecordHTTPStatus(statusCode int)
	RecordRateLimited()
	RecordTokensDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	snapshots     prometheus.Counter
	mirrorSize    prometheus.Gauge
	subErrors     prometheus.Counter
	appends       *prometheus.CounterVec
	appendLatency prometheus.Histogram
	bootstraps    *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	rateLimited   prometheus.Counter
	tokensDeleted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_snapshots_applied_total",
			Help: "ミラーに適用したスナップショットの合計数",
		}),
		mirrorSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripledger_mirror_records",
			Help: "ミラー中の支出レコード数",
		}),
		subErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_subscription_errors_total",
			Help: "購読エラー通知の合計数",
		}),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripledger_appends_total",
			Help: "結果別の支出追記数",
		}, []string{"result"}),
		appendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripledger_append_latency_seconds",
			Help:    "ストアへの追記のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		bootstraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripledger_identity_bootstrap_total",
			Help: "確立経路別のID確立数",
		}, []string{"method"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripledger_sign_in_failures_total",
			Help: "経路別のサインイン失敗数",
		}, []string{"method"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripledger_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}),
		tokensDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripledger_expired_tokens_deleted_total",
			Help: "削除した期限切れトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.snapshots,
		c.mirrorSize,
		c.subErrors,
		c.appends,
		c.appendLatency,
		c.bootstraps,
		c.authFailures,
		c.httpStatus,
		c.rateLimited,
		c.tokensDeleted,
	)

	return c
}

// RecordSnapshot はスナップショットの適用とミラーのレコード数を記録する。
func (c *Collector) RecordSnapshot(records int) {
	c.snapshots.Inc()
	c.mirrorSize.Set(float64(records))
}

// RecordSubscriptionError は購読エラーを記録する。
func (c *Collector) RecordSubscriptionError() {
	c.subErrors.Inc()
}

// RecordAppend は追記の結果を記録する。書き込みを行った場合のみレイテンシを記録する。
func (c *Collector) RecordAppend(result string, duration time.Duration) {
	c.appends.WithLabelValues(result).Inc()
	if duration > 0 {
		c.appendLatency.Observe(duration.Seconds())
	}
}

// RecordBootstrap はIDの確立経路を記録する。
func (c *Collector) RecordBootstrap(method string) {
	c.bootstraps.WithLabelValues(method).Inc()
}

// RecordAuthFailure はサインイン失敗を記録する。
func (c *Collector) RecordAuthFailure(method string) {
	c.authFailures.WithLabelValues(method).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordTokensDeleted は削除した期限切れトークン数を記録する。
func (c *Collector) RecordTokensDeleted(count int64) {
	c.tokensDeleted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
