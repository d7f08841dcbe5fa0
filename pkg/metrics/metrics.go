package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters for the messaging pipeline. Registered on the default registry
// and exposed via /metrics.
var (
	MessagesQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crewtext_messages_queued_total",
		Help: "Send tasks accepted by the router and published to the queue.",
	}, []string{"message_type"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crewtext_rate_limit_rejections_total",
		Help: "Send requests rejected by the per-tenant minute quota.",
	})

	RemindersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crewtext_reminders_sent_total",
		Help: "Reminder sends by tier and outcome.",
	}, []string{"tier", "outcome"})

	StatusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crewtext_status_events_total",
		Help: "Delivery-status callbacks by lifecycle status.",
	}, []string{"status"})

	FallbackSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crewtext_sms_fallbacks_total",
		Help: "Automatic SMS fallbacks triggered by WhatsApp policy failures.",
	})

	InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crewtext_inbound_messages_total",
		Help: "Inbound provider messages by channel.",
	}, []string{"channel"})

	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crewtext_dead_letters_total",
		Help: "Send requests copied to the dead-letter queue.",
	})
)

// Handler returns a gin handler serving the prometheus registry
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
