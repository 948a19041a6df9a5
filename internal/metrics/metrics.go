package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var MessagesObserved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_messages_observed_total",
	Help: "Total number of guild messages fed to the signal trackers.",
})

var SignalsTripped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_signals_tripped_total",
	Help: "Total number of tripped spam signals by kind.",
}, []string{"signal"})

var Detections = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_detections_total",
	Help: "Total number of spam detections handed to the escalation policy.",
})

var Actions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_actions_total",
	Help: "Moderation actions issued, by action and result.",
}, []string{"action", "result"})

var Votes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_votes_total",
	Help: "Arbitration votes by result.",
}, []string{"result"})

var CasesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "spamguard_cases_closed_total",
	Help: "Arbitration cases closed, by outcome.",
}, []string{"outcome"})

var CasesOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "spamguard_cases_open",
	Help: "Number of arbitration cases currently awaiting a vote.",
})

var LinksBlocked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "spamguard_links_blocked_total",
	Help: "Messages removed by the link filter.",
})

var ObserveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "spamguard_observe_duration_seconds",
	Help:    "Time spent evaluating one inbound message.",
	Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
})
