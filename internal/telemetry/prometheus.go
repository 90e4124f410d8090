package telemetry

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

const livelookNamespace string = "livelook"

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusDropped = "dropped"
)

var (
	promRoomTotal       prometheus.Gauge
	promConnectionTotal prometheus.Gauge
	promPeerLinkTotal   prometheus.Gauge

	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promRoomTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "hub",
		Name:      "rooms",
		Help:      "Rooms with at least one member",
	})

	promConnectionTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "hub",
		Name:      "connections",
		Help:      "Open signaling connections",
	})

	promPeerLinkTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: livelookNamespace,
		Subsystem: "session",
		Name:      "peer_links",
		Help:      "Peer links held by session managers of this process",
	})

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   livelookNamespace,
			Subsystem:   "node",
			Name:        "service_operation",
			Help:        "Hub and session operations by outcome",
			ConstLabels: prometheus.Labels{"node_id": nodeID()},
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promRoomTotal)
	prometheus.MustRegister(promConnectionTotal)
	prometheus.MustRegister(promPeerLinkTotal)
	prometheus.MustRegister(ServiceOperationCounter)
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "1"
	}
	return host
}

// Operation counts one hub or session operation. errorType is empty for successes.
func Operation(opType, status, errorType string) {
	ServiceOperationCounter.WithLabelValues(opType, status, errorType).Inc()
}

func RoomCreated() {
	promRoomTotal.Inc()
}

func RoomDeleted() {
	promRoomTotal.Dec()
}

func ConnectionOpened() {
	promConnectionTotal.Inc()
}

func ConnectionClosed() {
	promConnectionTotal.Dec()
}

func PeerLinkOpened() {
	promPeerLinkTotal.Inc()
}

func PeerLinkClosed() {
	promPeerLinkTotal.Dec()
}
