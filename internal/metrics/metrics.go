package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_messages_created_total",
		Help: "Messages written to the store.",
	})
	MessagesUpdated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_messages_updated_total",
		Help: "Message edits written to the store.",
	})
	MessagesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_messages_deleted_total",
		Help: "Messages deleted from the store.",
	})
	ReactionsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_reactions_applied_total",
		Help: "Reaction upserts and retractions.",
	})
	UploadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_upload_failures_total",
		Help: "Image batches rejected by the image host.",
	})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupchat_store_errors_total",
		Help: "Failed message store operations by op.",
	}, []string{"op"})
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groupchat_connected_clients",
		Help: "Websocket clients currently subscribed to the feed.",
	})
	SnapshotsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupchat_snapshots_delivered_total",
		Help: "Feed snapshots received from the store subscription.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesCreated,
		MessagesUpdated,
		MessagesDeleted,
		ReactionsApplied,
		UploadFailures,
		StoreErrors,
		ConnectedClients,
		SnapshotsDelivered,
	)
}
