package observer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rvcampaign"

// Prometheus exports campaign metrics through a prometheus registry.
type Prometheus struct {
	running  prometheus.Gauge
	results  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	merges   *prometheus.CounterVec
	skipped  prometheus.Counter
}

// NewPrometheus registers the campaign collectors on reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "targets_running",
			Help:      "Build targets currently executing.",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "target_results_total",
			Help:      "Finished build targets by status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_duration_seconds",
			Help:      "Wall time of finished build targets.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coverage_merges_total",
			Help:      "Completed coverage merges by tool.",
		}, []string{"tool"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coverage_inputs_skipped_total",
			Help:      "Coverage databases skipped during merge.",
		}),
	}
	for _, c := range []prometheus.Collector{p.running, p.results, p.duration, p.merges, p.skipped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) TargetStarted(ctx context.Context, target string) {
	p.running.Inc()
}

func (p *Prometheus) TargetFinished(ctx context.Context, target string, status string, elapsed time.Duration) {
	p.running.Dec()
	p.results.WithLabelValues(status).Inc()
	p.duration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (p *Prometheus) MergeFinished(ctx context.Context, tool string, inputs int, skipped int, elapsed time.Duration) {
	p.merges.WithLabelValues(tool).Inc()
	p.skipped.Add(float64(skipped))
}
