package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus instruments for the service. It also
// satisfies the cache layer's MetricsRecorder.
type Collector struct {
	scansTotal      *prometheus.CounterVec
	scanDuration    *prometheus.HistogramVec
	reportsCreated  prometheus.Counter
	reportsUnlocked *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	scheduledChecks *prometheus.CounterVec
	queueSize       prometheus.Gauge
}

func NewCollector() *Collector {
	return &Collector{
		scansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcheck_scans_total",
				Help: "Total scan tasks by terminal outcome",
			},
			[]string{"outcome"},
		),
		scanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthcheck_scan_duration_seconds",
				Help:    "Duration of scan tasks in seconds, retries included",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"outcome"},
		),
		reportsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "healthcheck_reports_created_total",
				Help: "Total reports persisted",
			},
		),
		reportsUnlocked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcheck_reports_unlocked_total",
				Help: "Total report unlocks by trigger",
			},
			[]string{"trigger"},
		),
		webhookEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcheck_webhook_events_total",
				Help: "Billing webhook deliveries by type and disposition",
			},
			[]string{"type", "disposition"},
		),
		cacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcheck_cache_lookups_total",
				Help: "Cache lookups by domain and result",
			},
			[]string{"domain", "result"},
		),
		scheduledChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthcheck_scheduled_checks_total",
				Help: "Scheduled monitoring runs by outcome",
			},
			[]string{"outcome"},
		),
		queueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "healthcheck_scan_queue_size",
				Help: "Jobs waiting in the scan queue",
			},
		),
	}
}

func (c *Collector) RecordScan(outcome string, durationSeconds float64) {
	c.scansTotal.WithLabelValues(outcome).Inc()
	c.scanDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

func (c *Collector) ReportCreated() {
	c.reportsCreated.Inc()
}

func (c *Collector) ReportUnlocked(trigger string) {
	c.reportsUnlocked.WithLabelValues(trigger).Inc()
}

// RecordReportUnlocked satisfies the billing layer's post-commit hook.
func (c *Collector) RecordReportUnlocked(_ int64, _ string) {
	c.ReportUnlocked("webhook")
}

func (c *Collector) RecordWebhookEvent(eventType, disposition string) {
	c.webhookEvents.WithLabelValues(eventType, disposition).Inc()
}

func (c *Collector) RecordCacheLookup(domain string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(domain, result).Inc()
}

func (c *Collector) RecordScheduledCheck(outcome string) {
	c.scheduledChecks.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetQueueSize(n int64) {
	c.queueSize.Set(float64(n))
}
