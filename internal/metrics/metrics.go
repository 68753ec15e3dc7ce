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
// サービス層、スイープワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordOperation(op, outcome string)
	RecordOverdueMarked()
	RecordFinePaid()
	RecordSweep(failed int, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	operations    *prometheus.CounterVec
	overdueMarked prometheus.Counter
	finesPaid     prometheus.Counter
	sweepRuns     prometheus.Counter
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libman_operations_total",
			Help: "貸出操作の結果別の合計数",
		}, []string{"op", "outcome"}),
		overdueMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libman_loans_marked_overdue_total",
			Help: "延滞に遷移した貸出の合計数",
		}),
		finesPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libman_fines_paid_total",
			Help: "支払われた罰金の合計数",
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libman_sweep_runs_total",
			Help: "延滞スイープの実行回数",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "libman_sweep_failures_total",
			Help: "延滞スイープで処理に失敗した貸出の合計数",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "libman_sweep_duration_seconds",
			Help:    "延滞スイープ1回の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "libman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.operations,
		c.overdueMarked,
		c.finesPaid,
		c.sweepRuns,
		c.sweepFailures,
		c.sweepDuration,
		c.httpStatus,
	)

	return c
}

// RecordOperation は貸出操作の結果を記録する。
func (c *Collector) RecordOperation(op, outcome string) {
	c.operations.WithLabelValues(op, outcome).Inc()
}

// RecordOverdueMarked は延滞への遷移を記録する。
func (c *Collector) RecordOverdueMarked() {
	c.overdueMarked.Inc()
}

// RecordFinePaid は罰金の支払いを記録する。
func (c *Collector) RecordFinePaid() {
	c.finesPaid.Inc()
}

// RecordSweep はスイープ1回分の失敗件数と所要時間を記録する。
func (c *Collector) RecordSweep(failed int, duration time.Duration) {
	c.sweepRuns.Inc()
	c.sweepFailures.Add(float64(failed))
	c.sweepDuration.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
