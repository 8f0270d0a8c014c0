// Package metrics exposes Prometheus collectors for the linking and
// notification pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssued counts successfully issued link tokens.
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nbot_link_tokens_issued_total",
		Help: "Total number of link tokens issued",
	})

	// Verifications counts verification attempts by outcome.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nbot_link_verifications_total",
		Help: "Total number of link verification attempts",
	}, []string{"outcome"}) // outcome: success, not_found, used, expired, conflict, error

	// EventsEnqueued counts accepted queue events by type.
	EventsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nbot_queue_events_enqueued_total",
		Help: "Total number of notification events enqueued",
	}, []string{"type"})

	// EventsDelivered counts delivered-and-acked events by type.
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nbot_queue_events_delivered_total",
		Help: "Total number of notification events delivered",
	}, []string{"type"})

	// DeliveryFailures counts failed delivery attempts by type. Failed
	// events stay claimed until their lease lapses, then get retried.
	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nbot_queue_delivery_failures_total",
		Help: "Total number of failed delivery attempts",
	}, []string{"type"})

	// EventsPruned counts processed events removed by retention pruning.
	EventsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nbot_queue_events_pruned_total",
		Help: "Total number of processed events pruned",
	})
)
