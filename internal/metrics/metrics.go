// Package metrics holds the Prometheus instruments shared by the service.
// All collectors are registered with the global registry, so mounting
// promhttp.Handler() is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "questforge"

var (
	SettingsLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_loads_total",
			Help:      "Settings snapshot constructions by result.",
		}, []string{"result"})

	SettingsInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "settings_info",
			Help:      "Always 1; labels describe the active settings snapshot.",
		}, []string{"project_name", "api_prefix"})

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "status"})

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"})
)

func init() {
	prometheus.MustRegister(
		SettingsLoads,
		SettingsInfo,
		HTTPRequests,
		HTTPDuration,
	)
}

// RecordSettingsLoad counts a load attempt and, on success, publishes the
// snapshot's identifying labels.
func RecordSettingsLoad(projectName, apiPrefix string, err error) {
	if err != nil {
		SettingsLoads.WithLabelValues("error").Inc()
		return
	}
	SettingsLoads.WithLabelValues("ok").Inc()
	SettingsInfo.Reset()
	SettingsInfo.WithLabelValues(projectName, apiPrefix).Set(1)
}
