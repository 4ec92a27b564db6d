package main

import (
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// RTPReceiver ingests 16-bit big-endian PCM carried over RTP on a UDP
// multicast group, the transport ka9q-radio's radiod uses for demodulated
// audio channels.
type RTPReceiver struct {
	conn    *net.UDPConn
	metrics *PrometheusMetrics

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewRTPReceiver joins the multicast group at addr ("group:port").
func NewRTPReceiver(addr string, metrics *PrometheusMetrics) (*RTPReceiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}

	var conn *net.UDPConn
	if udpAddr.IP != nil && udpAddr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp", nil, udpAddr)
	} else {
		conn, err = net.ListenUDP("udp", udpAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := conn.SetReadBuffer(1 << 20); err != nil {
		log.Printf("[RTP] SetReadBuffer failed: %v", err)
	}

	log.Printf("[RTP] Listening on %s", addr)

	return &RTPReceiver{conn: conn, metrics: metrics}, nil
}

// Start launches the receive loop, pushing PCM blocks onto audioChan. A
// block is dropped when the channel is full; the decoder would rather lose
// audio than fall behind real time.
func (r *RTPReceiver) Start(audioChan chan<- []int16) {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.receiveLoop(audioChan)
}

// Stop terminates the receive loop.
func (r *RTPReceiver) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.conn.Close()
	r.wg.Wait()
}

func (r *RTPReceiver) receiveLoop(audioChan chan<- []int16) {
	defer r.wg.Done()

	buffer := make([]byte, 65536)

	for {
		n, _, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			r.mu.RLock()
			running := r.running
			r.mu.RUnlock()
			if !running {
				return
			}
			log.Printf("[RTP] Read error: %v", err)
			continue
		}

		if n < 12 {
			// too small to be valid RTP
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buffer[:n]); err != nil {
			log.Printf("[RTP] Parse error: %v", err)
			if r.metrics != nil {
				r.metrics.rtpPacketsDropped.Inc()
			}
			continue
		}

		if r.metrics != nil {
			r.metrics.rtpPacketsTotal.Inc()
		}

		if len(packet.Payload) == 0 || len(packet.Payload)%2 != 0 {
			continue
		}

		samples := bytesToInt16Samples(packet.Payload)

		select {
		case audioChan <- samples:
		default:
			if r.metrics != nil {
				r.metrics.rtpPacketsDropped.Inc()
			}
		}
	}
}

// bytesToInt16Samples converts big-endian PCM bytes to int16 samples
func bytesToInt16Samples(pcmBytes []byte) []int16 {
	samples := make([]int16, len(pcmBytes)/2)
	for i := range samples {
		samples[i] = int16(pcmBytes[i*2])<<8 | int16(pcmBytes[i*2+1])
	}
	return samples
}
