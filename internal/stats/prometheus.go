package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is a live Prometheus view of a Chart, refreshed on every sync
// cycle. It sits alongside the CSV/JSON snapshot (show.go) rather than
// replacing it — the files remain the persisted record, Prometheus is
// just a dashboard feed.
type Registry struct {
	reg *prometheus.Registry

	execTotal     prometheus.Gauge
	roundsTotal   prometheus.Gauge
	density       prometheus.Gauge
	speed         prometheus.Gauge
	inputsTotal   prometheus.Gauge
	hangsTotal    prometheus.Gauge
	crashesTotal  prometheus.Gauge
	ampsTotal     prometheus.Gauge
	bestAmpFactor prometheus.Gauge
	pathsTotal    prometheus.Gauge
}

// NewRegistry builds and registers the gauge set under the ampfuzz_
// namespace.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ampfuzz",
			Name:      name,
			Help:      help,
		})
		r.reg.MustRegister(g)
		return g
	}

	r.execTotal = gauge("executions_total", "total target executions across all workers")
	r.roundsTotal = gauge("rounds_total", "completed fuzz-loop rounds")
	r.density = gauge("bitmap_density_percent", "percentage of the coverage bitmap ever hit")
	r.speed = gauge("executions_per_second", "executions per second since startup")
	r.inputsTotal = gauge("inputs_total", "queue inputs saved")
	r.hangsTotal = gauge("hangs_total", "hanging inputs saved")
	r.crashesTotal = gauge("crashes_total", "crashing inputs saved")
	r.ampsTotal = gauge("amps_total", "amplifying inputs saved")
	r.bestAmpFactor = gauge("best_amplification_factor", "highest amplification factor observed")
	r.pathsTotal = gauge("distinct_paths_total", "distinct coverage paths observed")

	return r
}

// Update pushes a Chart snapshot's values into the gauges.
func (r *Registry) Update(c *Chart) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.execTotal.Set(float64(c.NumExec.Load()))
	r.roundsTotal.Set(float64(c.NumRounds.Load()))
	r.density.Set(c.Density.Value())
	r.speed.Set(c.Speed.Value())
	r.inputsTotal.Set(float64(c.NumInputs.Load()))
	r.hangsTotal.Set(float64(c.NumHangs.Load()))
	r.crashesTotal.Set(float64(c.NumCrashes.Load()))
	r.ampsTotal.Set(float64(c.NumAmps.Load()))
	r.bestAmpFactor.Set(c.BestAmp.AsFactor())
	r.pathsTotal.Set(float64(len(c.Paths)))
}

// Handler serves /metrics for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
