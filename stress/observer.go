package stress

import (
	"time"

	"github.com/go-spin/spinlock/metrics"
)

// Observer owns the prometheus instruments for the harness. Build it once per
// process; the vecs register on construction and a second registration of the
// same names panics.
type Observer struct {
	sections metrics.Counter
	latency  metrics.Histogram
	workers  metrics.Gauge
}

func NewObserver() *Observer {
	return &Observer{
		sections: metrics.NewCounter(
			metrics.Name("sections_total"),
			metrics.Help("lock sections completed"),
		),
		latency: metrics.NewHistogram(
			metrics.Name("section_seconds"),
			metrics.Help("sampled latency of one locked section"),
		),
		workers: metrics.NewGauge(
			metrics.Name("workers"),
			metrics.Help("worker goroutines currently running"),
		),
	}
}

// view is an Observer bound to one protocol label value. Binding a nil
// Observer yields a nil view, whose methods all no-op.
type view struct {
	sections metrics.Counter
	latency  metrics.Histogram
	workers  metrics.Gauge
}

func (o *Observer) bind(protocol string) *view {
	if o == nil {
		return nil
	}
	return &view{
		sections: o.sections.Values(protocol),
		latency:  o.latency.Values(protocol),
		workers:  o.workers.Values(protocol),
	}
}

func (v *view) up() {
	if v != nil {
		v.workers.Inc()
	}
}

func (v *view) down() {
	if v != nil {
		v.workers.Dec()
	}
}

func (v *view) observe(d time.Duration) {
	if v != nil {
		v.latency.Observe(d.Seconds())
	}
}

func (v *view) count(n int64) {
	if v != nil {
		v.sections.Add(float64(n))
	}
}
