// Package metrics holds Prometheus instruments that are used across the bot.
// All collectors are registered with the global registry, so importing this
// package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "loungebot"

var (
	VisitsConfirmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_confirmed_total",
			Help:      "Cumulative number of visits confirmed by staff.",
		})

	VisitsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_rejected_total",
			Help:      "Visit confirmations refused, by reason.",
		}, []string{"reason"})

	CardsAllocatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_allocated_total",
			Help:      "Cumulative number of loyalty card numbers allocated.",
		})

	BroadcastDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_delivered_total",
			Help:      "Broadcast messages delivered, by campaign kind.",
		}, []string{"kind"})

	BroadcastFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failed_total",
			Help:      "Broadcast deliveries that failed, by campaign kind.",
		}, []string{"kind"})

	StoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Successful document rewrites, by document.",
		}, []string{"document"})

	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Document read or write failures, by document.",
		}, []string{"document"})

	MalformedRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Stored records or events skipped because they could not be parsed.",
		})

	UpdatesHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_handled_total",
			Help:      "Telegram updates processed, by command.",
		}, []string{"command"})

	UpdatesDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_duplicate_total",
			Help:      "Telegram updates dropped as duplicates.",
		})

	ActiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscribers",
			Help:      "Users that have not blocked the bot, as of the last stats refresh.",
		})
)

func init() {
	prometheus.MustRegister(
		VisitsConfirmedTotal,
		VisitsRejectedTotal,
		CardsAllocatedTotal,
		BroadcastDeliveredTotal,
		BroadcastFailedTotal,
		StoreWritesTotal,
		StoreErrorsTotal,
		MalformedRecordsTotal,
		UpdatesHandledTotal,
		UpdatesDuplicateTotal,
		ActiveSubscribers,
	)
}
