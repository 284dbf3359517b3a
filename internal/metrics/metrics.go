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
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSyncRun(sourceType string, status string)
	RecordSyncLatency(sourceType string, duration time.Duration)
	RecordItemsIngested(newCount, updatedCount int)
	RecordProviderStatus(statusCode int)
	RecordClassification(method string)
	RecordBriefing(status string)
	RecordBriefingLatency(duration time.Duration)
	RecordJob(kind string, outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns        *prometheus.CounterVec
	syncLatency     *prometheus.HistogramVec
	itemsIngested   *prometheus.CounterVec
	providerStatus  *prometheus.CounterVec
	classifications *prometheus.CounterVec
	briefings       *prometheus.CounterVec
	briefingLatency prometheus.Histogram
	jobs            *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailydigest_sync_runs_total",
			Help: "ソース同期の実行数（種別・結果別）",
		}, []string{"source_type", "status"}),
		syncLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dailydigest_sync_latency_seconds",
			Help:    "ソース同期のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source_type"}),
		itemsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailydigest_items_ingested_total",
			Help: "取り込んだコンテンツ数（新規・更新別）",
		}, []string{"result"}),
		providerStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailydigest_provider_status_total",
			Help: "プロバイダAPIのエラーステータスコード別の応答数",
		}, []string{"status_code"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailydigest_classifications_total",
			Help: "分類したコンテンツ数（分類方式別）",
		}, []string{"method"}),
		briefings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailydigest_briefings_total",
			Help: "ブリーフィング生成の終了状態別の件数",
		}, []string{"status"}),
		briefingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dailydigest_briefing_latency_seconds",
			Help:    "ブリーフィング生成のレイテンシ（秒）",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailydigest_jobs_total",
			Help: "ジョブキューで処理したジョブ数（種別・結果別）",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncLatency,
		c.itemsIngested,
		c.providerStatus,
		c.classifications,
		c.briefings,
		c.briefingLatency,
		c.jobs,
	)

	return c
}

// RecordSyncRun は同期結果を記録する。
func (c *Collector) RecordSyncRun(sourceType string, status string) {
	c.syncRuns.WithLabelValues(sourceType, status).Inc()
}

// RecordSyncLatency は同期のレイテンシを記録する。
func (c *Collector) RecordSyncLatency(sourceType string, duration time.Duration) {
	c.syncLatency.WithLabelValues(sourceType).Observe(duration.Seconds())
}

// RecordItemsIngested は新規・更新コンテンツ数を記録する。
func (c *Collector) RecordItemsIngested(newCount, updatedCount int) {
	c.itemsIngested.WithLabelValues("new").Add(float64(newCount))
	c.itemsIngested.WithLabelValues("updated").Add(float64(updatedCount))
}

// RecordProviderStatus はプロバイダのHTTPステータスコードを記録する。
func (c *Collector) RecordProviderStatus(statusCode int) {
	c.providerStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordClassification は分類方式を記録する。
func (c *Collector) RecordClassification(method string) {
	c.classifications.WithLabelValues(method).Inc()
}

// RecordBriefing はブリーフィング生成の終了状態を記録する。
func (c *Collector) RecordBriefing(status string) {
	c.briefings.WithLabelValues(status).Inc()
}

// RecordBriefingLatency はブリーフィング生成のレイテンシを記録する。
func (c *Collector) RecordBriefingLatency(duration time.Duration) {
	c.briefingLatency.Observe(duration.Seconds())
}

// RecordJob はジョブの処理結果を記録する。
func (c *Collector) RecordJob(kind string, outcome string) {
	c.jobs.WithLabelValues(kind, outcome).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクスが不要な場面やテストで使う。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordSyncRun(string, string)            {}
func (Nop) RecordSyncLatency(string, time.Duration) {}
func (Nop) RecordItemsIngested(int, int)            {}
func (Nop) RecordProviderStatus(int)                {}
func (Nop) RecordClassification(string)             {}
func (Nop) RecordBriefing(string)                   {}
func (Nop) RecordBriefingLatency(time.Duration)     {}
func (Nop) RecordJob(string, string)                {}

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
