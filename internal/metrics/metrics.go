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
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordJoin(paid bool)
	RecordConfirmSuccess()
	RecordConfirmFailure(reason string)
	RecordEdgeHealed()
	RecordOrderRecovered()
	RecordOrderExpired()
	RecordPreviewSuccess()
	RecordPreviewFailure(reason string)
	RecordPreviewLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	joins           *prometheus.CounterVec
	confirmSuccess  prometheus.Counter
	confirmFail     prometheus.Counter
	edgesHealed     prometheus.Counter
	ordersRecovered prometheus.Counter
	ordersExpired   prometheus.Counter
	previewSuccess  prometheus.Counter
	previewFail     prometheus.Counter
	previewLatency  prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsudoi_joins_total",
			Help: "アクティビティ参加の合計数（無料/有料別）",
		}, []string{"kind"}),
		confirmSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_payment_confirm_success_total",
			Help: "決済確定成功の合計数",
		}),
		confirmFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_payment_confirm_fail_total",
			Help: "決済確定失敗の合計数",
		}),
		edgesHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_edges_healed_total",
			Help: "修復スイープが補った片側つながりの合計数",
		}),
		ordersRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_orders_recovered_total",
			Help: "回復スイープが再反映した完了済み注文の合計数",
		}),
		ordersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_orders_expired_total",
			Help: "TTLスイープが失効させた注文の合計数",
		}),
		previewSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_preview_success_total",
			Help: "詳細URLタイトル取得成功の合計数",
		}),
		previewFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsudoi_preview_fail_total",
			Help: "詳細URLタイトル取得失敗の合計数",
		}),
		previewLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tsudoi_preview_latency_seconds",
			Help:    "詳細URLタイトル取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsudoi_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.joins,
		c.confirmSuccess,
		c.confirmFail,
		c.edgesHealed,
		c.ordersRecovered,
		c.ordersExpired,
		c.previewSuccess,
		c.previewFail,
		c.previewLatency,
		c.httpStatus,
	)

	return c
}

// RecordJoin はアクティビティ参加を記録する。
func (c *Collector) RecordJoin(paid bool) {
	kind := "free"
	if paid {
		kind = "paid"
	}
	c.joins.WithLabelValues(kind).Inc()
}

// RecordConfirmSuccess は決済確定成功を記録する。
func (c *Collector) RecordConfirmSuccess() {
	c.confirmSuccess.Inc()
}

// RecordConfirmFailure は決済確定失敗を記録する。
func (c *Collector) RecordConfirmFailure(reason string) {
	c.confirmFail.Inc()
}

// RecordEdgeHealed は片側つながりの修復を記録する。
func (c *Collector) RecordEdgeHealed() {
	c.edgesHealed.Inc()
}

// RecordOrderRecovered は完了済み注文の再反映を記録する。
func (c *Collector) RecordOrderRecovered() {
	c.ordersRecovered.Inc()
}

// RecordOrderExpired は注文の失効を記録する。
func (c *Collector) RecordOrderExpired() {
	c.ordersExpired.Inc()
}

// RecordPreviewSuccess はタイトル取得成功を記録する。
func (c *Collector) RecordPreviewSuccess() {
	c.previewSuccess.Inc()
}

// RecordPreviewFailure はタイトル取得失敗を記録する。
func (c *Collector) RecordPreviewFailure(reason string) {
	c.previewFail.Inc()
}

// RecordPreviewLatency はタイトル取得のレイテンシを記録する。
func (c *Collector) RecordPreviewLatency(duration time.Duration) {
	c.previewLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
