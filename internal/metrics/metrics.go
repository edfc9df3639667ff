// Package metrics holds the Prometheus collectors shared by the client
// transport and the server data endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "webterm"

var (
	// FramesSent counts frames written by the client transport, by kind.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "frames_sent_total",
		Help:      "Frames written to the data channel by the client.",
	}, []string{"kind"})

	// FramesDropped counts frames discarded because the connection was not open.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded because the data channel was not open.",
	}, []string{"kind"})

	// BytesReceived counts raw output bytes received by the client.
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "bytes_received_total",
		Help:      "Raw terminal output bytes received by the client.",
	})

	// ConnectionsActive tracks open server data connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections_active",
		Help:      "Data connections currently open.",
	})

	// FramesReceived counts frames decoded by the server, by kind.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "frames_received_total",
		Help:      "Frames decoded from clients.",
	}, []string{"kind"})

	// BytesSent counts raw output bytes written to clients by the server.
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "bytes_sent_total",
		Help:      "Raw process output bytes written to clients.",
	})
)
