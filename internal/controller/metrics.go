package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Cycle results.
const (
	resultUnchanged    = "unchanged"
	resultUpdated      = "updated"
	resultPartial      = "partial_failure"
	resultLookupFailed = "ip_lookup_failed"
	resultReloadFailed = "reload_failed"
	resultSuccess      = "success"
	resultFailure      = "failure"
)

var (
	reconcileCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ddns_reconcile_cycles_total",
		Help: "Reconciliation cycles by outcome.",
	}, []string{"result"})

	ipLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ddns_ip_lookups_total",
		Help: "Public IP lookups by outcome.",
	}, []string{"result"})

	recordUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ddns_record_updates_total",
		Help: "DNS record update attempts by domain, record type and outcome.",
	}, []string{"domain", "type", "result"})

	configReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ddns_config_reloads_total",
		Help: "Configuration reloads by outcome.",
	}, []string{"result"})

	lastSuccessfulUpdate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ddns_last_successful_update_timestamp_seconds",
		Help: "Unix time at which the current public IP was last written to the configuration file.",
	})
)

func init() {
	metrics.Registry.MustRegister(
		reconcileCycles,
		ipLookups,
		recordUpdates,
		configReloads,
		lastSuccessfulUpdate,
	)
}
