package arbiter

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors of an arbiter. A nil *Metrics
// records nothing.
type Metrics struct {
	buffersReceived prometheus.Counter
	pointsIngested  prometheus.Counter
	decodeErrors    prometheus.Counter
	namingErrors    prometheus.Counter
	commandsSent    prometheus.Counter
	sinkErrors      prometheus.Counter
	seriesEvicted   prometheus.Counter
	elementsEvicted prometheus.Counter
	elements        prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carbon",
		Subsystem: "receiver",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors and registers them on reg. It returns
// nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		buffersReceived: newCounter("buffers_received_total", "Buffers read from UDP or TCP"),
		pointsIngested:  newCounter("points_ingested_total", "Points added to the aggregator"),
		decodeErrors:    newCounter("decode_errors_total", "Lines that could not be decoded"),
		namingErrors:    newCounter("naming_errors_total", "Metric names not following host.plugin.type"),
		commandsSent:    newCounter("commands_sent_total", "Commands handed to the sink"),
		sinkErrors:      newCounter("sink_errors_total", "Batches the sink failed to accept"),
		seriesEvicted:   newCounter("series_evicted_total", "Metric series purged for staleness"),
		elementsEvicted: newCounter("elements_evicted_total", "Elements purged after losing every series"),
		elements: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carbon",
			Subsystem: "receiver",
			Name:      "elements",
			Help:      "Host/service elements currently aggregated",
		}),
	}
	reg.MustRegister(
		m.buffersReceived,
		m.pointsIngested,
		m.decodeErrors,
		m.namingErrors,
		m.commandsSent,
		m.sinkErrors,
		m.seriesEvicted,
		m.elementsEvicted,
		m.elements,
	)
	return m
}

func (m *Metrics) incBuffers() {
	if m != nil {
		m.buffersReceived.Inc()
	}
}

func (m *Metrics) addPoints(n int) {
	if m != nil {
		m.pointsIngested.Add(float64(n))
	}
}

func (m *Metrics) incDecodeErrors() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) incNamingErrors() {
	if m != nil {
		m.namingErrors.Inc()
	}
}

func (m *Metrics) addCommands(n int) {
	if m != nil {
		m.commandsSent.Add(float64(n))
	}
}

func (m *Metrics) incSinkErrors() {
	if m != nil {
		m.sinkErrors.Inc()
	}
}

func (m *Metrics) recordEviction(series, elements, remaining int) {
	if m != nil {
		m.seriesEvicted.Add(float64(series))
		m.elementsEvicted.Add(float64(elements))
		m.elements.Set(float64(remaining))
	}
}
