package monitoring

import (
	"audiod/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.PolicyMetrics.
type PrometheusCollector struct {
	streamEvents    *prometheus.CounterVec
	duckTransitions *prometheus.CounterVec
	activeStreams   *prometheus.GaugeVec
	appliedVolume   *prometheus.GaugeVec
	mixerFailures   *prometheus.CounterVec
}

// NewPrometheusCollector registers the collector's metrics with reg. A nil
// reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiod_stream_events_total",
			Help: "Open and close callbacks applied per logical stream",
		}, []string{"kind", "stream", "event"}),

		duckTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiod_duck_transitions_total",
			Help: "Streams entering or leaving the ducked state",
		}, []string{"kind", "stream", "transition"}),

		activeStreams: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audiod_active_streams",
			Help: "Number of open logical streams",
		}, []string{"kind"}),

		appliedVolume: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "audiod_stream_volume",
			Help: "Last volume sent to the mixer (0-100)",
		}, []string{"kind", "stream"}),

		mixerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audiod_mixer_failures_total",
			Help: "Mixer commands that were refused or could not be sent",
		}, []string{"operation"}),
	}
}

func (p *PrometheusCollector) StreamOpened(kind domain.StreamKind, stream domain.StreamID) {
	p.streamEvents.WithLabelValues(kind.String(), string(stream), "opened").Inc()
}

func (p *PrometheusCollector) StreamClosed(kind domain.StreamKind, stream domain.StreamID) {
	p.streamEvents.WithLabelValues(kind.String(), string(stream), "closed").Inc()
}

func (p *PrometheusCollector) StreamDucked(kind domain.StreamKind, stream domain.StreamID) {
	p.duckTransitions.WithLabelValues(kind.String(), string(stream), "ducked").Inc()
}

func (p *PrometheusCollector) StreamRestored(kind domain.StreamKind, stream domain.StreamID) {
	p.duckTransitions.WithLabelValues(kind.String(), string(stream), "restored").Inc()
}

func (p *PrometheusCollector) VolumeApplied(kind domain.StreamKind, stream domain.StreamID, volume int) {
	p.appliedVolume.WithLabelValues(kind.String(), string(stream)).Set(float64(volume))
}

func (p *PrometheusCollector) MixerCallFailed(operation string) {
	p.mixerFailures.WithLabelValues(operation).Inc()
}

func (p *PrometheusCollector) ActiveStreams(kind domain.StreamKind, count int) {
	p.activeStreams.WithLabelValues(kind.String()).Set(float64(count))
}
