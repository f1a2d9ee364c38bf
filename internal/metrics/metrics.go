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
// サービス層・ワーカー・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	// RecordProvision はプロフィール作成・更新の結果（created, updated, failed）を記録する。
	RecordProvision(result string)
	// RecordLink は連携の結果を記録する。成功時は "linked"、失敗時はエラーコード。
	RecordLink(outcome string)
	RecordLinkLatency(duration time.Duration)
	// RecordRepair は修復ジョブ1回分の件数を記録する。
	RecordRepair(completed, rolledBack int, cleared int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	provisions  *prometheus.CounterVec
	links       *prometheus.CounterVec
	linkLatency prometheus.Histogram
	repairs     *prometheus.CounterVec
	httpStatus  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		provisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twogether_provision_total",
			Help: "プロフィール作成・更新の結果別件数",
		}, []string{"result"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twogether_link_total",
			Help: "パートナー連携の結果別件数",
		}, []string{"outcome"}),
		linkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "twogether_link_latency_seconds",
			Help:    "パートナー連携トランザクションのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twogether_repair_total",
			Help: "修復ジョブで処理したレコード数",
		}, []string{"action"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twogether_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.provisions,
		c.links,
		c.linkLatency,
		c.repairs,
		c.httpStatus,
	)

	return c
}

// RecordProvision はプロフィール作成・更新の結果を記録する。
func (c *Collector) RecordProvision(result string) {
	c.provisions.WithLabelValues(result).Inc()
}

// RecordLink は連携の結果を記録する。
func (c *Collector) RecordLink(outcome string) {
	c.links.WithLabelValues(outcome).Inc()
}

// RecordLinkLatency は連携のレイテンシを記録する。
func (c *Collector) RecordLinkLatency(duration time.Duration) {
	c.linkLatency.Observe(duration.Seconds())
}

// RecordRepair は修復ジョブの件数を記録する。
func (c *Collector) RecordRepair(completed, rolledBack int, cleared int64) {
	c.repairs.WithLabelValues("completed").Add(float64(completed))
	c.repairs.WithLabelValues("rolled_back").Add(float64(rolledBack))
	c.repairs.WithLabelValues("cleared").Add(float64(cleared))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordProvision(string)          {}
func (Nop) RecordLink(string)               {}
func (Nop) RecordLinkLatency(time.Duration) {}
func (Nop) RecordRepair(int, int, int64)    {}
func (Nop) RecordHTTPStatus(int)            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
