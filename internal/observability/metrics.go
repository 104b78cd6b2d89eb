// Package observability records conversion metrics and traces.
package observability

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for conversions_total.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector bundles the Prometheus metrics of conversion runs. A nil
// *Collector records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Conversions   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Vertices      prometheus.Gauge
	Offset        prometheus.Gauge
	Textures      prometheus.Gauge
	LastSuccess   prometheus.Gauge
}

// NewCollector registers the conversion metrics against reg, defaulting to a
// fresh registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "obj2kmz_conversions_total",
		Help: "Conversion runs by result and error kind.",
	}, []string{"result", "kind"})
	if err := register(reg, conversions, "obj2kmz_conversions_total"); err != nil {
		return nil, err
	}

	stages := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "obj2kmz_stage_duration_seconds",
		Help:    "Duration of each pipeline stage in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"stage"})
	if err := register(reg, stages, "obj2kmz_stage_duration_seconds"); err != nil {
		return nil, err
	}

	c := &Collector{gatherer: gatherer, Conversions: conversions, StageDuration: stages}
	var err error
	if c.Vertices, err = registerGauge(reg, "obj2kmz_mesh_vertices", "Vertices sampled from the last mesh."); err != nil {
		return nil, err
	}
	if c.Offset, err = registerGauge(reg, "obj2kmz_vertical_offset", "Vertical offset applied to the last mesh, in mesh units."); err != nil {
		return nil, err
	}
	if c.Textures, err = registerGauge(reg, "obj2kmz_textures_packed", "Textures packed into the last archive."); err != nil {
		return nil, err
	}
	if c.LastSuccess, err = registerGauge(reg, "obj2kmz_last_success_timestamp_seconds", "Unix time of the last successful conversion."); err != nil {
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, name, help string) (prometheus.Gauge, error) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	if err := register(reg, g, name); err != nil {
		return nil, err
	}
	return g, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector, name string) error {
	if err := reg.Register(c); err != nil {
		return errors.Wrapf(err, "register %s", name)
	}
	return nil
}

// ObserveStage records how long a stage took.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetVertices records the number of vertices the offset was estimated from.
func (c *Collector) SetVertices(n int) {
	if c == nil {
		return
	}
	c.Vertices.Set(float64(n))
}

func (c *Collector) SetOffset(offset float64) {
	if c == nil {
		return
	}
	c.Offset.Set(offset)
}

func (c *Collector) SetTextures(n int) {
	if c == nil {
		return
	}
	c.Textures.Set(float64(n))
}

// RecordConversion counts a finished run. kind is empty on success.
func (c *Collector) RecordConversion(success bool, kind string) {
	if c == nil {
		return
	}
	if success {
		c.Conversions.WithLabelValues(ResultSuccess, "").Inc()
		c.LastSuccess.SetToCurrentTime()
		return
	}
	c.Conversions.WithLabelValues(ResultFailure, kind).Inc()
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format, for the node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.gatherer); err != nil {
		return errors.Wrapf(err, "write metrics to %s", path)
	}
	return nil
}
