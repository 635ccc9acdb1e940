// Package stubmetrics exposes a gdbremote session's packet and byte
// counters as a prometheus.Collector, the way pkg/exporter exposes a
// wrapped net.Conn's tcp_info fields in the teacher module this
// package is descended from. The embedding process registers it with
// a prometheus.Registerer and serves /metrics itself; this package
// never imports net/http.
package stubmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector counts packets and bytes for one or more named gdbremote
// sessions. Sessions are created by SinkFor and removed with Remove; a
// Stub's own counters flow in through the Sink returned by
// SinkFor.
type Collector struct {
	mu       sync.Mutex
	sessions map[string]*counters

	packetsRecv *prometheus.Desc
	packetsSent *prometheus.Desc
	bytesIn     *prometheus.Desc
	bytesOut    *prometheus.Desc
}

type counters struct {
	packetsRecv uint64
	packetsSent uint64
	bytesIn     uint64
	bytesOut    uint64
}

// NewCollector builds a Collector whose metrics carry constLabels on
// every series (e.g. hostname, process name).
func NewCollector(prefix string, constLabels prometheus.Labels) *Collector {
	labelNames := []string{"session"}
	return &Collector{
		sessions:    make(map[string]*counters),
		packetsRecv: prometheus.NewDesc(prefix+"_packets_received_total", "RSP packets received from the debugger", labelNames, constLabels),
		packetsSent: prometheus.NewDesc(prefix+"_packets_sent_total", "RSP packets sent to the debugger", labelNames, constLabels),
		bytesIn:     prometheus.NewDesc(prefix+"_bytes_in_total", "Payload bytes received from the debugger", labelNames, constLabels),
		bytesOut:    prometheus.NewDesc(prefix+"_bytes_out_total", "Payload bytes sent to the debugger", labelNames, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.packetsRecv
	descs <- c.packetsSent
	descs <- c.bytesIn
	descs <- c.bytesOut
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for session, ct := range c.sessions {
		metrics <- prometheus.MustNewConstMetric(c.packetsRecv, prometheus.CounterValue, float64(ct.packetsRecv), session)
		metrics <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(ct.packetsSent), session)
		metrics <- prometheus.MustNewConstMetric(c.bytesIn, prometheus.CounterValue, float64(ct.bytesIn), session)
		metrics <- prometheus.MustNewConstMetric(c.bytesOut, prometheus.CounterValue, float64(ct.bytesOut), session)
	}
}

// Remove drops a session's counters, e.g. once its connection dies.
func (c *Collector) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// SinkFor returns a gdbremote.MetricsSink that accumulates into
// sessionID's counters, creating them on first use.
func (c *Collector) SinkFor(sessionID string) *Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		c.sessions[sessionID] = &counters{}
	}
	return &Sink{c: c, session: sessionID}
}

// Sink implements gdbremote.MetricsSink for a single session.
type Sink struct {
	c       *Collector
	session string
}

func (s *Sink) PacketReceived() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.sessions[s.session].packetsRecv++
}

func (s *Sink) PacketSent() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.sessions[s.session].packetsSent++
}

func (s *Sink) BytesIn(n int) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.sessions[s.session].bytesIn += uint64(n)
}

func (s *Sink) BytesOut(n int) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.sessions[s.session].bytesOut += uint64(n)
}
