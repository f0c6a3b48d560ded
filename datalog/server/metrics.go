package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	DatomsIngested prometheus.Counter
	Transactions   prometheus.Counter
	Registrations  *prometheus.CounterVec
	Queries        prometheus.Gauge
	Steps          *prometheus.CounterVec
	OutputUpdates  prometheus.Counter
	Epoch          prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	datomsIngested := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "janus_dataflow_datoms_ingested_total",
		Help: "Total transaction operations applied to the global arrangements",
	})

	transactions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "janus_dataflow_transactions_total",
		Help: "Total transactions accepted",
	})

	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_dataflow_registrations_total",
		Help: "Total rule registrations by result",
	}, []string{"result"})

	queries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "janus_dataflow_queries",
		Help: "Number of registered queries",
	})

	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_dataflow_steps_total",
		Help: "Total query epochs stepped by result",
	}, []string{"result"})

	outputUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "janus_dataflow_output_updates_total",
		Help: "Total updates delivered to subscribers",
	})

	epoch := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "janus_dataflow_epoch",
		Help: "Next epoch the inputs accept",
	})

	reg.MustRegister(datomsIngested, transactions, registrations, queries, steps, outputUpdates, epoch)

	return &Metrics{
		DatomsIngested: datomsIngested,
		Transactions:   transactions,
		Registrations:  registrations,
		Queries:        queries,
		Steps:          steps,
		OutputUpdates:  outputUpdates,
		Epoch:          epoch,
	}
}
