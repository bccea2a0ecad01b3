// Package metrics registers the messaging client's prometheus counters on
// the default registry. The demo binary serves them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_messages_sent_total",
		Help: "Messages transmitted over the persistent connection.",
	})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_messages_received_total",
		Help: "message:new events received.",
	})

	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_send_failures_total",
		Help: "Message sends rejected by the transport.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_reconnects_total",
		Help: "Persistent connection drops followed by a reconnect attempt.",
	})

	UploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_upload_failures_total",
		Help: "Attachment or voice uploads that failed.",
	})

	TypingEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_typing_events_total",
		Help: "Typing start/stop events transmitted.",
	})
)
