// Package metrics exposes the prometheus gauges and counters a cluster
// node publishes about its own failure-detection and dissemination
// activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every prometheus collector a node reports.
type Metrics struct {
	pingsSent      prometheus.Counter
	pingsTimedOut  prometheus.Counter
	pingReqsSent   *prometheus.CounterVec
	acksReceived   prometheus.Counter
	probeDuration  prometheus.Histogram

	statusChanges *prometheus.CounterVec
	membersByStatus *prometheus.GaugeVec

	gossipSent       prometheus.Counter
	gossipReceived   prometheus.Counter
	gossipAcked      prometheus.Counter
	gossipBatchSize  prometheus.Histogram

	packetsDropped *prometheus.CounterVec

	changeSubscribers prometheus.Gauge
}

// NewMetrics registers every collector with the default prometheus
// registry and returns a handle for recording observations.
func NewMetrics() *Metrics {
	return &Metrics{
		pingsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swimring_pings_sent_total",
			Help: "Total number of direct pings sent.",
		}),
		pingsTimedOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swimring_pings_timed_out_total",
			Help: "Total number of direct pings that received no ack.",
		}),
		pingReqsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swimring_ping_reqs_sent_total",
			Help: "Total number of indirect ping-req probes sent.",
		}, []string{"target"}),
		acksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swimring_acks_received_total",
			Help: "Total number of ack packets received, direct or forwarded.",
		}),
		probeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "swimring_probe_duration_seconds",
			Help:    "Time from sending a ping to resolving the probe.",
			Buckets: prometheus.DefBuckets,
		}),
		statusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swimring_status_changes_total",
			Help: "Total number of committed member status transitions.",
		}, []string{"to"}),
		membersByStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swimring_members",
			Help: "Current number of non-local members in each status.",
		}, []string{"status"}),
		gossipSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swimring_gossip_sent_total",
			Help: "Total number of Gossip packets sent.",
		}),
		gossipReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swimring_gossip_received_total",
			Help: "Total number of Gossip packets received.",
		}),
		gossipAcked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "swimring_gossip_acked_total",
			Help: "Total number of GossipAck packets sent.",
		}),
		gossipBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "swimring_gossip_batch_size",
			Help:    "Number of member updates piggybacked on one dissemination tick.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		packetsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "swimring_packets_dropped_total",
			Help: "Total number of inbound packets dropped at the transport boundary.",
		}, []string{"reason"}),
		changeSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "swimring_change_subscribers",
			Help: "Current number of active change-bus subscribers.",
		}),
	}
}

func (m *Metrics) RecordPingSent()           { m.pingsSent.Inc() }
func (m *Metrics) RecordPingTimedOut()       { m.pingsTimedOut.Inc() }
func (m *Metrics) RecordPingReqSent(target string) {
	m.pingReqsSent.WithLabelValues(target).Inc()
}
func (m *Metrics) RecordAckReceived()        { m.acksReceived.Inc() }
func (m *Metrics) ObserveProbeDuration(d time.Duration) {
	m.probeDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordStatusChange(to string) {
	m.statusChanges.WithLabelValues(to).Inc()
}

func (m *Metrics) SetMembersInStatus(status string, count int) {
	m.membersByStatus.WithLabelValues(status).Set(float64(count))
}

func (m *Metrics) RecordGossipSent()    { m.gossipSent.Inc() }
func (m *Metrics) RecordGossipReceived() { m.gossipReceived.Inc() }
func (m *Metrics) RecordGossipAcked()   { m.gossipAcked.Inc() }
func (m *Metrics) ObserveGossipBatch(n int) {
	m.gossipBatchSize.Observe(float64(n))
}

func (m *Metrics) RecordPacketDropped(reason string) {
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetChangeSubscribers(n int) {
	m.changeSubscribers.Set(float64(n))
}

// Registry returns the prometheus gatherer metrics were registered
// against, for wiring into an HTTP /metrics handler.
func (m *Metrics) Registry() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
