// Package metrics exposes a running emulation's statistics to Prometheus.
// Grounded in the teacher pack's proxy-egress metrics package: a dedicated
// registry, gauge vectors, and an HTTP handler serving them — additive to,
// never a replacement for, StatsSnapshot.Report()'s human-readable line,
// which remains the primary output spec.md §6 requires.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aousterh/fabricemu"
)

// Reporter mirrors a running Emulation's cumulative StatsSnapshot into
// Prometheus gauges. Values are set, not incremented, on every Update: the
// snapshot is already a running total (see NewStatsSnapshot), so repeatedly
// setting a gauge to it is idempotent where Inc-per-event accounting would
// double count on every poll.
type Reporter struct {
	registry *prometheus.Registry

	admit           prometheus.Gauge
	drop            *prometheus.GaugeVec
	mark            prometheus.Gauge
	pushed          prometheus.Gauge
	pulled          prometheus.Gauge
	waitForAdmitted prometheus.Gauge
	dropRate        prometheus.Gauge
}

// NewReporter builds a Reporter backed by its own registry, namespaced
// under "fabricemu" so embedding it in a host process never collides with
// that process's own default-registry metrics.
func NewReporter() *Reporter {
	r := &Reporter{
		registry: prometheus.NewRegistry(),
		admit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricemu",
			Name:      "admitted_total",
			Help:      "Cumulative packets admitted across every core.",
		}),
		drop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fabricemu",
			Name:      "dropped_total",
			Help:      "Cumulative packets dropped, by cause.",
		}, []string{"cause"}),
		mark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricemu",
			Name:      "marked_total",
			Help:      "Cumulative packets ECN-marked by a congestion-aware discipline.",
		}),
		pushed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricemu",
			Name:      "pushed_total",
			Help:      "Cumulative packets pushed from routers back to endpoints.",
		}),
		pulled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricemu",
			Name:      "pulled_total",
			Help:      "Cumulative packets pulled from endpoint backlogs.",
		}),
		waitForAdmitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricemu",
			Name:      "wait_for_admitted_total",
			Help:      "Cumulative spins waiting for q_admitted_out to have room.",
		}),
		dropRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabricemu",
			Name:      "drop_rate",
			Help:      "Fraction of total demand dropped, in [0,1], as of the last update.",
		}),
	}
	r.registry.MustRegister(r.admit, r.drop, r.mark, r.pushed, r.pulled, r.waitForAdmitted, r.dropRate)
	return r
}

// Update overwrites every gauge with the values in snap.
func (r *Reporter) Update(snap fabricemu.StatsSnapshot) {
	r.admit.Set(float64(snap.Admit))
	b := snap.DropBreakdown()
	r.drop.WithLabelValues("policy").Set(float64(b.PolicyDrop))
	r.drop.WithLabelValues("demand").Set(float64(b.DemandDrop))
	r.drop.WithLabelValues("reset").Set(float64(b.ResetDrop))
	r.drop.WithLabelValues("alloc_stall").Set(float64(b.AllocStall))
	r.mark.Set(float64(snap.Mark))
	r.pushed.Set(float64(snap.Pushed))
	r.pulled.Set(float64(snap.Pulled))
	r.waitForAdmitted.Set(float64(snap.WaitForAdmitted))
	r.dropRate.Set(snap.DropRate())
}

// Handler serves this Reporter's registry in the Prometheus exposition
// format, for mounting under e.g. "/metrics".
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
