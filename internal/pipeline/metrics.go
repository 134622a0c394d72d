package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "events_processed_total",
		Help:      "Events scored by the pipeline.",
	}, []string{"tenant", "kind"})

	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "events_rejected_total",
		Help:      "Events rejected before scoring for missing required fields.",
	}, []string{"tenant"})

	threatsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "threats_created_total",
		Help:      "Threats persisted by severity.",
	}, []string{"tenant", "severity"})

	actionsTaken = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harrier",
		Name:      "actions_automated_total",
		Help:      "Automated response actions recorded by type.",
	}, []string{"tenant", "action_type"})
)
