package forward

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel  = "error_type"
	endpointLabel = "endpoint"
)

var (
	eventSend = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_send",
		Help: "The number of events forwarded.",
	}, []string{
		endpointLabel,
	})

	eventSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_send_errors",
		Help: "The errors that occured while forwarding an event.",
	}, []string{
		endpointLabel,
		errTypeLabel,
	})

	eventSendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "event_send_latency",
		Help: "The time to forward an event.",
	}, []string{
		endpointLabel,
	})
)

func instrumentEventSend(endpoint string) {
	eventSend.With(prometheus.Labels{
		endpointLabel: endpoint,
	}).Inc()
}

func instrumentEventSendError(endpoint string, err error) {
	eventSendError.
		With(prometheus.Labels{
			endpointLabel: endpoint,
			errTypeLabel:  errors.Type(err),
		}).
		Inc()
}

func instrumentEventSendLatency(endpoint string, start time.Time) {
	eventSendLatency.With(prometheus.Labels{
		endpointLabel: endpoint,
	}).Observe(time.Since(start).Seconds())
}
