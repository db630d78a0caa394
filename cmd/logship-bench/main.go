// Command logship-bench measures end-to-end shipping throughput against an
// in-process HTTP sink: records flow through the real SQLite queue and the
// real NDJSON sender, so the numbers include storage cost.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/velmie/logship"
	"github.com/velmie/logship/sqlite"
)

const (
	defaultRecords      = 100000
	defaultPayloadBytes = 512
	defaultBatchSize    = 100
	defaultDrainPoll    = 10 * time.Millisecond
	defaultDrainTimeout = 2 * time.Minute
)

var (
	errDrainTimeout     = errors.New("logship-bench: drain timeout exceeded")
	errDeliveryMismatch = errors.New("logship-bench: delivered records mismatch")
)

type result struct {
	Records       int           `json:"records"`
	Delivered     int64         `json:"delivered"`
	Batches       int64         `json:"batches"`
	PayloadBytes  int           `json:"payload_bytes"`
	BatchSize     int           `json:"batch_size"`
	MaxBatchBytes int           `json:"max_batch_bytes"`
	SinkLatency   time.Duration `json:"sink_latency"`
	LogDuration   time.Duration `json:"log_duration"`
	DrainDuration time.Duration `json:"drain_duration"`
	Duration      time.Duration `json:"duration"`
	Throughput    float64       `json:"throughput_msg_per_sec"`
}

// countingSink is the delivery target: it counts NDJSON lines and batches
// and can simulate a slow network.
type countingSink struct {
	latency   time.Duration
	delivered atomic.Int64
	batches   atomic.Int64
}

func (s *countingSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)
	lines := int64(0)
	for scanner.Scan() {
		lines++
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	s.delivered.Add(lines)
	s.batches.Add(1)
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	var (
		records       int
		payloadBytes  int
		batchSize     int
		maxBatchBytes int
		flushInterval time.Duration
		sinkLatency   time.Duration
		drainTimeout  time.Duration
		dbPath        string
		jsonOut       bool
	)

	flag.IntVar(&records, "records", defaultRecords, "Number of records to ship")
	flag.IntVar(&payloadBytes, "payload-bytes", defaultPayloadBytes, "Approximate record payload size in bytes")
	flag.IntVar(&batchSize, "batch-size", defaultBatchSize, "Shipper batch size")
	flag.IntVar(&maxBatchBytes, "max-batch-bytes", 0, "Batch byte ceiling (0 uses the default)")
	flag.DurationVar(&flushInterval, "flush-interval", time.Second, "Shipper flush interval")
	flag.DurationVar(&sinkLatency, "sink-latency", 0, "Artificial sink latency per batch")
	flag.DurationVar(&drainTimeout, "drain-timeout", defaultDrainTimeout, "Time to wait for the queue to drain")
	flag.StringVar(&dbPath, "db", "", "Queue database path (default: a temp file)")
	flag.BoolVar(&jsonOut, "json", false, "Print JSON result")
	flag.Parse()

	res, err := run(records, payloadBytes, batchSize, maxBatchBytes, flushInterval, sinkLatency, drainTimeout, dbPath)
	if err != nil {
		exitErr(err)
	}

	if jsonOut {
		if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
			exitErr(err)
		}

		return
	}

	fmt.Printf(
		"RESULT records=%d batches=%d duration=%s throughput=%.0f/s batch=%d payload=%dB sink_latency=%s\n",
		res.Records,
		res.Batches,
		res.Duration,
		res.Throughput,
		res.BatchSize,
		res.PayloadBytes,
		res.SinkLatency,
	)
}

func run(
	records, payloadBytes, batchSize, maxBatchBytes int,
	flushInterval, sinkLatency, drainTimeout time.Duration,
	dbPath string,
) (result, error) {
	sink := &countingSink{latency: sinkLatency}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return result{}, fmt.Errorf("logship-bench: listen: %w", err)
	}
	server := &http.Server{Handler: sink, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Shutdown(context.Background()) }()

	if dbPath == "" {
		dir, err := os.MkdirTemp("", "logship-bench")
		if err != nil {
			return result{}, fmt.Errorf("logship-bench: temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "queue.db")
	}

	queue, err := sqlite.Open(dbPath)
	if err != nil {
		return result{}, err
	}

	sender := logship.NewHTTPSender("http://" + listener.Addr().String())

	opts := []logship.Option{
		logship.WithBatchSize(batchSize),
		logship.WithFlushInterval(flushInterval),
	}
	if maxBatchBytes > 0 {
		opts = append(opts, logship.WithMaxBatchBytes(maxBatchBytes))
	}
	shipper, err := logship.New("bench", "bench_logs", queue, sender, opts...)
	if err != nil {
		_ = queue.Close()

		return result{}, err
	}

	message := strings.Repeat("a", payloadBytes)

	start := time.Now()
	for i := 0; i < records; i++ {
		shipper.Info(message, nil)
	}
	if err := shipper.Flush(); err != nil {
		_ = shipper.Close()

		return result{}, err
	}
	logDuration := time.Since(start)

	drainStart := time.Now()
	if err := waitForDrain(sink, int64(records), drainTimeout); err != nil {
		_ = shipper.Close()

		return result{}, err
	}
	drainDuration := time.Since(drainStart)

	if err := shipper.Close(); err != nil {
		return result{}, err
	}

	duration := time.Since(start)
	delivered := sink.delivered.Load()
	if delivered != int64(records) {
		return result{}, fmt.Errorf("%w: delivered %d, expected %d", errDeliveryMismatch, delivered, records)
	}

	return result{
		Records:       records,
		Delivered:     delivered,
		Batches:       sink.batches.Load(),
		PayloadBytes:  payloadBytes,
		BatchSize:     batchSize,
		MaxBatchBytes: maxBatchBytes,
		SinkLatency:   sinkLatency,
		LogDuration:   logDuration,
		DrainDuration: drainDuration,
		Duration:      duration,
		Throughput:    float64(delivered) / duration.Seconds(),
	}, nil
}

func waitForDrain(sink *countingSink, target int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for sink.delivered.Load() < target {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: delivered %d of %d", errDrainTimeout, sink.delivered.Load(), target)
		}
		time.Sleep(defaultDrainPoll)
	}

	return nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
