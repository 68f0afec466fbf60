package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "notefiber",
		Subsystem: "relay",
		Name:      "connected_clients",
		Help:      "Sockets currently joined to a document room.",
	})
	framesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "notefiber",
		Subsystem: "relay",
		Name:      "frames_received_total",
		Help:      "Update frames accepted from clients.",
	})
	framesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "notefiber",
		Subsystem: "relay",
		Name:      "frames_sent_total",
		Help:      "Frames queued to clients.",
	})
)

func init() {
	prometheus.MustRegister(connectedClients, framesReceived, framesSent)
}
