package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	watcherPollCyclesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "watcher_poll_cycles_total",
			Help:      "Total chat.db poll cycles.",
		},
		[]string{"outcome"}, // "ok", "store_missing", "error"
	)

	messagesReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "messages_received_total",
			Help:      "Total inbound messages emitted to the pipeline.",
		},
		[]string{"service"}, // "iMessage", "SMS"
	)

	statusUpdatesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "status_updates_total",
			Help:      "Total delivery/read status updates detected.",
		},
		[]string{"kind"}, // "delivered", "read"
	)

	trackedMessagesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Name:      "tracked_messages",
			Help:      "Sent messages currently tracked for receipts.",
		},
	)

	queueSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Name:      "retry_queue_size",
			Help:      "Deliveries currently waiting in the retry queue.",
		},
	)

	queueDeliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "retry_deliveries_total",
			Help:      "Total retry queue delivery attempts by outcome.",
		},
		[]string{"outcome"}, // "success", "failure", "dropped"
	)
)
