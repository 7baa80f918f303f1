package metrics

import "github.com/prometheus/client_golang/prometheus"

var MessagesDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campaign_messages_dispatched_total",
		Help: "Outbound send attempts by provider and outcome",
	},
	[]string{"provider", "outcome"},
)

var ProviderSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "campaign_provider_send_duration_seconds",
		Help:    "Time taken by the SMS provider to acknowledge a send",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider"},
)

var RateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "campaign_rate_limit_rejections_total",
		Help: "Sends refused because the sender's daily quota was exhausted",
	},
)

var WebhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campaign_webhook_events_total",
		Help: "Inbound provider webhook events by result",
	},
	[]string{"result"},
)

var CampaignBatchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campaign_batches_total",
		Help: "Scheduler batches by result",
	},
	[]string{"result"},
)

var QueuePublishFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campaign_queue_publish_failures_total",
		Help: "Failed status-event publishes",
	},
	[]string{"topic"},
)

var MessagesReconciledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "campaign_messages_reconciled_total",
		Help: "Stale queued messages moved to failed by the reconciler",
	},
)

// Register adds every collector to the default registry. Safe to call once per process.
func Register() {
	prometheus.MustRegister(
		MessagesDispatchedTotal,
		ProviderSendDuration,
		RateLimitRejectionsTotal,
		WebhookEventsTotal,
		CampaignBatchesTotal,
		QueuePublishFailuresTotal,
		MessagesReconciledTotal,
	)
}
