package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_connected_clients",
		Help: "The number of connected event stream clients.",
	})

	streamedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamed_events_total",
		Help: "The total number of events sent to stream clients.",
	})
)

func instrumentStreamClientConnect() {
	streamConnectedClients.Inc()
}

func instrumentStreamClientDisconnect() {
	streamConnectedClients.Dec()
}

func instrumentStreamedEvent() {
	streamedEvents.Inc()
}
