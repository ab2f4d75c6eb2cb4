package allowlist

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "allowlist"

// MetricsActivitySink counts workflow events in Prometheus.
type MetricsActivitySink struct {
	events     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	stages     *prometheus.CounterVec
}

// NewMetricsActivitySink registers the workflow collectors on reg. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewMetricsActivitySink(reg prometheus.Registerer) (*MetricsActivitySink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &MetricsActivitySink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "workflow_events_total",
			Help:      "Workflow events by type.",
		}, []string{"event"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "workflow_rejections_total",
			Help:      "Rejected workflow requests by reason.",
		}, []string{"reason"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "member_stage_transitions_total",
			Help:      "Member stage transitions.",
		}, []string{"from", "to"}),
	}

	for _, c := range []prometheus.Collector{s.events, s.rejections, s.stages} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Record implements ActivitySink.
func (s *MetricsActivitySink) Record(_ context.Context, event ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case ActivityEventRejected:
		reason := event.Reason
		if reason == "" {
			reason = "unknown"
		}
		s.rejections.WithLabelValues(reason).Inc()
	case ActivityEventStageChanged:
		s.stages.WithLabelValues(string(event.FromStage), string(event.ToStage)).Inc()
	}

	return nil
}
