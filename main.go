// navtex decodes NAVTEX / SITOR-B broadcasts from demodulated audio.
//
// In its simplest form it reads 16-bit signed little-endian PCM from a file
// or stdin and prints the decoded text:
//
//	navtex [flags] [sample_rate] [input_path|-]
//
// A WAV header on the input is detected and used for the sample rate. With
// -rtp it instead ingests radiod-style RTP audio from a multicast group,
// and with -listen it serves the decoded stream over WebSocket along with
// Prometheus metrics.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fventuri/navtex/sitor"
)

const readBlockSize = 8192

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		listenAddr = flag.String("listen", "", "serve WebSocket stream and metrics on this address")
		rtpAddr    = flag.String("rtp", "", "ingest RTP PCM from this multicast group:port")
		recordPath = flag.String("record", "", "tee ingested audio to this WAV file")
		onlySitorB = flag.Bool("only-sitor-b", false, "raw SITOR-B decode, no message envelope")
		reverse    = flag.Bool("reverse", false, "swap mark and space")
		centerFreq = flag.Float64("center", 0, "center frequency in Hz (default 1000)")
		deviation  = flag.Float64("deviation", 0, "FSK deviation in Hz (default 85)")
		baudRate   = flag.Float64("baud", 0, "baud rate (default 100)")
		compress   = flag.Bool("compress", false, "zstd-compress stream frames")
		debug      = flag.Bool("debug", false, "verbose decoder logging")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	sitor.Debug = *debug

	config := DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Config error: %v", err)
		}
	}

	// Positional arguments as in the reference driver: [sample_rate] [input|-].
	// A single non-numeric argument is taken as the input path.
	if arg := flag.Arg(0); arg != "" {
		rate, err := strconv.Atoi(arg)
		switch {
		case err == nil && rate > 0:
			config.Input.SampleRate = rate
		case err == nil && rate == 0:
			// explicit 0 defers to a WAV header on the input
		case err != nil && flag.Arg(1) == "":
			config.Input.Path = arg
		default:
			fmt.Fprintf(os.Stderr, "invalid sample rate: %s\n", arg)
			os.Exit(1)
		}
	}
	if arg := flag.Arg(1); arg != "" {
		config.Input.Path = arg
	}

	// Flag overrides
	if *listenAddr != "" {
		config.Server.Listen = *listenAddr
	}
	if *rtpAddr != "" {
		config.Input.RTP = *rtpAddr
	}
	if *recordPath != "" {
		config.Input.Record = *recordPath
	}
	if *onlySitorB {
		config.Decoder.OnlySitorB = true
	}
	if *reverse {
		config.Decoder.Reverse = true
	}
	if *centerFreq != 0 {
		config.Decoder.CenterFrequency = *centerFreq
	}
	if *deviation != 0 {
		config.Decoder.Deviation = *deviation
	}
	if *baudRate != 0 {
		config.Decoder.BaudRate = *baudRate
	}
	if *compress {
		config.Server.Compression = true
	}

	if err := config.Validate(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if err := run(config); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(config *Config) error {
	metrics := NewPrometheusMetrics()
	if config.Prometheus.SystemMetrics {
		metrics.StartSystemMetrics(time.Duration(config.Prometheus.UpdateInterval) * time.Second)
	}
	defer metrics.Stop()

	// For file input, sniff a WAV header before building the decoder so
	// the fmt-chunk sample rate wins over the configured one.
	var reader *bufio.Reader
	var closeInput func()
	if config.Input.RTP == "" {
		var err error
		reader, closeInput, err = openInput(config)
		if err != nil {
			return err
		}
		defer closeInput()
	}

	svc, err := NewService(config.Input.SampleRate, config.Decoder, config.Server.MaxMessages)
	if err != nil {
		return err
	}

	encoder := NewStreamEncoder(config.Server.Compression)
	defer encoder.Close()

	broadcaster := NewBroadcaster()

	svc.OnMessage(func(m DecodedMessage) {
		metrics.RecordMessage(m.Header)
		if frame, err := encoder.EncodeMessage(m); err == nil {
			broadcaster.Broadcast(frame)
		}
	})

	if config.MessageLog.Enabled {
		logger, err := NewMessageLogger(config.MessageLog)
		if err != nil {
			return err
		}
		defer logger.Close()
		svc.OnMessage(logger.Log)
	}

	if config.MQTT.Enabled {
		publisher, err := NewMQTTPublisher(&config.MQTT)
		if err != nil {
			return err
		}
		defer publisher.Stop()
		svc.OnMessage(publisher.PublishMessage)
		if config.MQTT.MetricsInterval > 0 {
			publisher.StartMetricsPublisher(time.Duration(config.MQTT.MetricsInterval) * time.Second)
		}
	}

	// Decoder tallies into the metric gauges
	statsDone := make(chan struct{})
	defer close(statsDone)
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statsDone:
				return
			case <-ticker.C:
				metrics.UpdateDecoder(svc.Stats())
				metrics.connectedClients.Set(float64(broadcaster.ClientCount()))
			}
		}
	}()

	if config.Server.Listen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", broadcaster.HandleWS)
		mux.HandleFunc("/api/messages", handleMessagesAPI(svc))
		if config.Prometheus.Enabled {
			mux.Handle("/metrics", promhttp.Handler())
		}
		go func() {
			log.Printf("[Server] Listening on %s", config.Server.Listen)
			if err := http.ListenAndServe(config.Server.Listen, mux); err != nil {
				log.Fatalf("[Server] %v", err)
			}
		}()
	}

	var recorder *WAVWriter
	if config.Input.Record != "" {
		recorder, err = NewWAVWriter(config.Input.Record, config.Input.SampleRate, 1, 16)
		if err != nil {
			return err
		}
		defer recorder.Close()
		log.Printf("[Record] Writing audio to %s", config.Input.Record)
	}

	if config.Input.RTP != "" {
		return runRTP(config, svc, broadcaster, encoder, metrics, recorder)
	}
	return runFile(reader, svc, broadcaster, encoder, metrics, recorder)
}

// openInput opens the configured file or stdin and consumes a WAV header
// when one is present, updating the configured sample rate from it.
func openInput(config *Config) (*bufio.Reader, func(), error) {
	var in io.Reader
	closeInput := func() {}

	if config.Input.Path == "" || config.Input.Path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(config.Input.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open(%s) failed: %w", config.Input.Path, err)
		}
		closeInput = func() { f.Close() }
		in = f
	}

	reader := bufio.NewReaderSize(in, readBlockSize*4)

	if magic, err := reader.Peek(4); err == nil && string(magic) == "RIFF" {
		header, err := ReadWAVHeader(reader)
		if err != nil {
			closeInput()
			return nil, nil, err
		}
		log.Printf("[Input] WAV input, %d Hz", header.SampleRate)
		config.Input.SampleRate = int(header.SampleRate)
	}

	return reader, closeInput, nil
}

// runFile is the classic driver: PCM blocks in, decoded text to stdout,
// exit on EOF.
func runFile(reader *bufio.Reader, svc *Service, broadcaster *Broadcaster, encoder *StreamEncoder, metrics *PrometheusMetrics, recorder *WAVWriter) error {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	raw := make([]byte, readBlockSize)
	samples := make([]int16, readBlockSize/2)
	carry := 0

	for {
		n, err := reader.Read(raw[carry:])
		n += carry
		count := n / 2
		carry = n % 2

		if count > 0 {
			for i := 0; i < count; i++ {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			}

			if recorder != nil {
				if werr := recorder.WriteSamples(samples[:count]); werr != nil {
					log.Printf("[Record] %v", werr)
				}
			}

			if perr := svc.ProcessPCM(samples[:count]); perr != nil {
				log.Printf("[Input] Sink write error: %v", perr)
			}
			metrics.samplesProcessed.Add(float64(count))

			if text := svc.DrainText(); text != "" {
				out.WriteString(text)
				out.Flush()
				if frame, ferr := encoder.EncodeText(text); ferr == nil {
					broadcaster.Broadcast(frame)
				}
			}
		}

		if carry == 1 {
			raw[0] = raw[n-1]
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
	}
}

// runRTP streams audio from the network until interrupted.
func runRTP(config *Config, svc *Service, broadcaster *Broadcaster, encoder *StreamEncoder, metrics *PrometheusMetrics, recorder *WAVWriter) error {
	receiver, err := NewRTPReceiver(config.Input.RTP, metrics)
	if err != nil {
		return err
	}

	audioChan := make(chan []int16, 64)
	resultChan := make(chan []byte, 64)

	if err := svc.Start(audioChan, resultChan, encoder); err != nil {
		return err
	}

	// Frames from the service out to the WebSocket clients
	go func() {
		for frame := range resultChan {
			broadcaster.Broadcast(frame)
		}
	}()

	in := audioChan
	if recorder != nil {
		wrapped := make(chan []int16, 64)
		go func() {
			for samples := range wrapped {
				if err := recorder.WriteSamples(samples); err != nil {
					log.Printf("[Record] %v", err)
				}
				audioChan <- samples
			}
		}()
		in = wrapped
	}
	receiver.Start(in)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("[Main] Received %v, shutting down", sig)

	receiver.Stop()
	svc.Stop()
	return nil
}
