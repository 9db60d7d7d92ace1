package server

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "adsplit",
		Name:      "events_ingested_total",
		Help:      "Total number of tracking events appended to the log.",
	})
	eventsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adsplit",
		Name:      "events_rejected_total",
		Help:      "Total number of tracking events rejected at ingestion.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(eventsIngested, eventsRejected)
}
