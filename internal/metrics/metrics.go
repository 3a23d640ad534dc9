// Package metrics собирает метрики Prometheus для виртуального банка.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector хранит коллекторы в собственном реестре. Методы безопасны для nil-получателя.
type Collector struct {
	registry        *prometheus.Registry
	commits         prometheus.Counter
	commitFailures  prometheus.Counter
	persistDuration prometheus.Histogram
	operations      *prometheus.CounterVec
	eventsApplied   *prometheus.CounterVec
	schedulerSteps  *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	accounts        prometheus.Gauge
	assetPrice      *prometheus.GaugeVec
}

// NewCollector создаёт коллектор метрик с новым реестром.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualbank_ledger_commits_total",
			Help: "Total number of committed ledger mutations",
		}),
		commitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "virtualbank_ledger_persist_failures_total",
			Help: "Total number of snapshot persistence failures",
		}),
		persistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "virtualbank_ledger_persist_duration_seconds",
			Help:    "Time taken to persist a full snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualbank_operations_total",
			Help: "Total number of command operations by name and result",
		}, []string{"operation", "result"}),
		eventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualbank_economic_events_total",
			Help: "Total number of applied economic events by kind",
		}, []string{"kind"}),
		schedulerSteps: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "virtualbank_scheduler_step_duration_seconds",
			Help:    "Duration of scheduler tick steps",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "virtualbank_notifications_published_total",
			Help: "Total number of published notifications by result",
		}, []string{"result"}),
		accounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "virtualbank_accounts",
			Help: "Current number of accounts",
		}),
		assetPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "virtualbank_asset_price",
			Help: "Current asset price in currency units",
		}, []string{"ticker"}),
	}
}

// ObserveCommit учитывает попытку фиксации изменения.
func (c *Collector) ObserveCommit(duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.persistDuration.Observe(duration.Seconds())
	if err != nil {
		c.commitFailures.Inc()
		return
	}
	c.commits.Inc()
}

// ObserveOperation учитывает результат командной операции.
func (c *Collector) ObserveOperation(operation string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.operations.WithLabelValues(operation, result).Inc()
}

// EventApplied учитывает применённое экономическое событие.
func (c *Collector) EventApplied(kind string) {
	if c == nil {
		return
	}
	c.eventsApplied.WithLabelValues(kind).Inc()
}

// ObserveStep учитывает длительность шага планировщика.
func (c *Collector) ObserveStep(step string, duration time.Duration) {
	if c == nil {
		return
	}
	c.schedulerSteps.WithLabelValues(step).Observe(duration.Seconds())
}

// NotificationPublished учитывает доставку уведомления.
func (c *Collector) NotificationPublished(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.notifications.WithLabelValues(result).Inc()
}

// SetAccounts выставляет число счетов.
func (c *Collector) SetAccounts(n int) {
	if c == nil {
		return
	}
	c.accounts.Set(float64(n))
}

// SetAssetPrice выставляет текущую цену инструмента.
func (c *Collector) SetAssetPrice(ticker string, price float64) {
	if c == nil {
		return
	}
	c.assetPrice.WithLabelValues(ticker).Set(price)
}

// Handler возвращает HTTP-обработчик для выдачи метрик.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
