package main

import (
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/fventuri/navtex/sitor"
)

// PrometheusMetrics holds all Prometheus metric collectors for the decoder
// and the host system.
type PrometheusMetrics struct {
	// Decoder metrics
	charactersTotal   prometheus.Counter     // code words accepted by the FEC combiner
	fecEventsTotal    *prometheus.CounterVec // FEC outcomes by kind
	syncLossesTotal   prometheus.Counter     // resyncs after exceeding the error budget
	messagesTotal     *prometheus.CounterVec // flushed messages by disposition
	markEnvelope      prometheus.Gauge       // discriminator mark envelope
	spaceEnvelope     prometheus.Gauge       // discriminator space envelope
	noiseFloor        prometheus.Gauge       // discriminator noise floor
	connectedClients  prometheus.Gauge       // active WebSocket clients
	samplesProcessed  prometheus.Counter     // audio samples consumed
	rtpPacketsTotal   prometheus.Counter     // RTP packets received
	rtpPacketsDropped prometheus.Counter     // RTP packets dropped (queue full / parse error)

	// System metrics
	cpuPercent    prometheus.Gauge
	memoryPercent prometheus.Gauge
	processRSS    prometheus.Gauge

	// previous decoder snapshot, for counter deltas
	last sitor.Stats

	stopChan chan struct{}
}

// NewPrometheusMetrics registers all collectors on the default registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		charactersTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navtex_characters_total",
			Help: "Code words accepted by the FEC combiner, shift and phasing codes included",
		}),
		fecEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "navtex_fec_events_total",
			Help: "FEC outcomes by kind (alpha, rep, soft, fail)",
		}, []string{"kind"}),
		syncLossesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navtex_sync_losses_total",
			Help: "Resynchronizations after the error budget was exceeded",
		}),
		messagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "navtex_messages_total",
			Help: "Flushed messages by disposition (complete, headerless)",
		}, []string{"disposition"}),
		markEnvelope: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navtex_mark_envelope",
			Help: "Discriminator mark envelope level",
		}),
		spaceEnvelope: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navtex_space_envelope",
			Help: "Discriminator space envelope level",
		}),
		noiseFloor: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navtex_noise_floor",
			Help: "Discriminator noise floor level",
		}),
		connectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navtex_websocket_clients",
			Help: "Connected WebSocket clients",
		}),
		samplesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navtex_samples_processed_total",
			Help: "Audio samples consumed",
		}),
		rtpPacketsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navtex_rtp_packets_total",
			Help: "RTP packets received",
		}),
		rtpPacketsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navtex_rtp_packets_dropped_total",
			Help: "RTP packets dropped",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navtex_system_cpu_percent",
			Help: "Host CPU utilization percent",
		}),
		memoryPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navtex_system_memory_percent",
			Help: "Host memory utilization percent",
		}),
		processRSS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navtex_process_resident_bytes",
			Help: "Resident set size of this process",
		}),
		stopChan: make(chan struct{}),
	}
	return m
}

// UpdateDecoder folds a decoder stats snapshot into the counters and gauges.
func (m *PrometheusMetrics) UpdateDecoder(s sitor.Stats) {
	m.charactersTotal.Add(float64(max64(0, s.Characters-m.last.Characters)))
	m.fecEventsTotal.WithLabelValues("alpha").Add(float64(max64(0, s.AlphaDecodes-m.last.AlphaDecodes)))
	m.fecEventsTotal.WithLabelValues("rep").Add(float64(max64(0, s.RepReplacements-m.last.RepReplacements)))
	m.fecEventsTotal.WithLabelValues("soft").Add(float64(max64(0, s.SoftFEC-m.last.SoftFEC)))
	m.fecEventsTotal.WithLabelValues("fail").Add(float64(max64(0, s.HardFailures-m.last.HardFailures)))
	m.syncLossesTotal.Add(float64(max64(0, s.SyncLosses-m.last.SyncLosses)))

	m.markEnvelope.Set(s.MarkEnvelope)
	m.spaceEnvelope.Set(s.SpaceEnvelope)
	m.noiseFloor.Set(s.NoiseFloor)

	m.last = s
}

// RecordMessage counts one flushed message.
func (m *PrometheusMetrics) RecordMessage(withHeader bool) {
	if withHeader {
		m.messagesTotal.WithLabelValues("complete").Inc()
	} else {
		m.messagesTotal.WithLabelValues("headerless").Inc()
	}
}

// StartSystemMetrics samples host CPU and memory on an interval, the same
// data the instance reporter exposes.
func (m *PrometheusMetrics) StartSystemMetrics(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.sampleSystem()
			}
		}
	}()
}

// Stop terminates the system metrics sampler.
func (m *PrometheusMetrics) Stop() {
	close(m.stopChan)
}

func (m *PrometheusMetrics) sampleSystem() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.cpuPercent.Set(percents[0])
	} else if err != nil {
		log.Printf("[Metrics] CPU sample failed: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		m.memoryPercent.Set(vm.UsedPercent)
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			m.processRSS.Set(float64(mi.RSS))
		}
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
