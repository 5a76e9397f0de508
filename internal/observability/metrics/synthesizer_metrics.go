package metrics

import "github.com/prometheus/client_golang/prometheus"

// SynthesizerStats exposes the synthesizer counters scraped as gauges.
type SynthesizerStats interface {
	TotalGenerated() uint64
	SensorCount() int
}

func registerSynthesizerMetrics(source SynthesizerStats) {
	prometheus.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: metricPrefix + "generated_total",
			Help: "Samples generated since process start",
		},
		func() float64 {
			return float64(source.TotalGenerated())
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "tracked_sensors",
			Help: "Sensors with history held in memory",
		},
		func() float64 {
			return float64(source.SensorCount())
		},
	))
}
