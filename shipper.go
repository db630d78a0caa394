package logship

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Shipper accepts log entries, buffers them in memory, persists full
// buffers to a durable Queue, and drives a single background delivery
// worker that drains the queue in bounded batches through a Sender.
//
// All logging methods are safe for concurrent use. Delivery passes never
// overlap: explicit Flush, the periodic timer, and the shutdown drain all
// funnel through the same worker.
type Shipper struct {
	project string
	table   string
	queue   Queue
	sender  Sender
	cfg     Config

	bufMu sync.Mutex
	buf   [][]byte

	trigger   chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New constructs a Shipper and starts its background worker. Project and
// table identify the record stream and are stamped into every record; both
// are required.
func New(project, table string, queue Queue, sender Sender, opts ...Option) (*Shipper, error) {
	if project == "" {
		return nil, ErrProjectRequired
	}
	if table == "" {
		return nil, ErrTableRequired
	}
	if queue == nil {
		return nil, ErrQueueRequired
	}
	if sender == nil {
		return nil, ErrSenderRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	s := &Shipper{
		project: project,
		table:   table,
		queue:   queue,
		sender:  sender,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.worker()

	return s, nil
}

// Debug logs a debug message.
func (s *Shipper) Debug(msg string, extra map[string]any) {
	s.Log(LevelDebug, Text(msg), extra)
}

// Info logs an informational message.
func (s *Shipper) Info(msg string, extra map[string]any) {
	s.Log(LevelInfo, Text(msg), extra)
}

// Warning logs a warning message.
func (s *Shipper) Warning(msg string, extra map[string]any) {
	s.Log(LevelWarning, Text(msg), extra)
}

// Error logs an error message.
func (s *Shipper) Error(msg string, extra map[string]any) {
	s.Log(LevelError, Text(msg), extra)
}

// Critical logs a critical message.
func (s *Shipper) Critical(msg string, extra map[string]any) {
	s.Log(LevelCritical, Text(msg), extra)
}

// Log records a message at the given level. Entries below the configured
// minimum level are dropped. Storage faults on this path never propagate
// to the caller; the entry stays buffered for a later flush.
func (s *Shipper) Log(level Level, msg Message, extra map[string]any) {
	if level < s.cfg.MinLevel || s.closed.Load() {
		return
	}

	entry := Entry{
		Timestamp: s.cfg.Clock.Now(),
		Level:     level,
		Message:   msg,
		Project:   s.project,
		Table:     s.table,
		Fields:    s.cfg.Fields,
		Extra:     extra,
	}
	payload, err := entry.Encode()
	if err != nil {
		s.cfg.Logger.Error("logship: dropping unencodable entry", "err", err)

		return
	}

	s.bufMu.Lock()
	// Re-check under the lock: Close stores the flag before its final
	// persist, so an entry appended here is either flushed by Close or
	// dropped, never stranded in memory.
	if s.closed.Load() {
		s.bufMu.Unlock()

		return
	}
	s.buf = append(s.buf, payload)
	full := len(s.buf) >= s.cfg.BatchSize
	s.bufMu.Unlock()

	if full {
		if err := s.persistBuffer(context.Background()); err != nil {
			s.cfg.Logger.Error("logship: buffer flush failed; entries stay buffered", "err", err)

			return
		}
		s.wake()
	}
}

// Flush persists the in-memory buffer to the queue and wakes the delivery
// worker. It returns once the buffer is durable; delivery itself happens
// asynchronously.
func (s *Shipper) Flush() error {
	if s.closed.Load() {
		return ErrClosed
	}

	if err := s.persistBuffer(context.Background()); err != nil {
		return err
	}
	s.wake()

	return nil
}

// Pending returns the number of entries not yet delivered: the in-memory
// buffer plus the durable queue.
func (s *Shipper) Pending(ctx context.Context) (int, error) {
	s.bufMu.Lock()
	buffered := len(s.buf)
	s.bufMu.Unlock()

	queued, err := s.queue.Size(ctx)
	if err != nil {
		return 0, err
	}

	return buffered + queued, nil
}

// Close stops the background worker, persists any buffered entries, and
// performs one final synchronous drain before releasing the queue and the
// sender. The final drain follows the normal stop-on-failure rule, so a
// dead sink cannot block shutdown; undelivered entries remain durably
// queued for the next start. Close is idempotent.
func (s *Shipper) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		<-s.done

		ctx := context.Background()
		persistErr := s.persistBuffer(ctx)
		s.drain(ctx)

		s.closeErr = errors.Join(persistErr, s.queue.Close(), s.sender.Close())
	})

	return s.closeErr
}

// wake signals the delivery worker without blocking. A trigger arriving
// while a pass is already pending coalesces into it.
func (s *Shipper) wake() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// worker owns delivery: every trigger source funnels through this loop, so
// two passes never run concurrently against the queue.
func (s *Shipper) worker() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.persistBuffer(ctx); err != nil {
				s.cfg.Logger.Error("logship: periodic buffer flush failed", "err", err)
			}
			s.drain(ctx)
		case <-s.trigger:
			s.drain(ctx)
		}
	}
}

// persistBuffer appends the buffered entries to the queue as one atomic
// batch. The buffer lock is held across the append so concurrent flush
// paths cannot interleave and reorder entries.
func (s *Shipper) persistBuffer(ctx context.Context) error {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()

	if len(s.buf) == 0 {
		return nil
	}
	if err := s.queue.Append(ctx, s.buf...); err != nil {
		return fmt.Errorf("logship: persist buffer: %w", err)
	}
	s.buf = s.buf[:0]

	return nil
}

// drain runs one delivery cycle: repeated select → bound → send → remove
// passes until the queue is empty or a batch fails. A failed batch is left
// untouched at the queue's read position, preserving order for the retry
// on the next trigger.
func (s *Shipper) drain(ctx context.Context) {
	defer s.recordPending(ctx)

	for {
		payloads, err := s.queue.Peek(ctx, s.cfg.BatchSize)
		if err != nil {
			s.cfg.Logger.Error("logship: peek failed; aborting delivery pass", "err", err)

			return
		}
		if len(payloads) == 0 {
			return
		}

		batch := boundBatch(payloads, s.cfg.MaxBatchBytes)

		start := time.Now()
		sendErr := s.sender.Send(ctx, batch)
		s.cfg.Metrics.ObserveSendDuration(time.Since(start))

		if sendErr != nil {
			s.cfg.Metrics.AddFailedBatches(1)
			s.cfg.Logger.Warn("logship: batch delivery failed; batch stays queued",
				"count", len(batch), "err", sendErr)

			return
		}

		if err := s.queue.Remove(ctx, len(batch)); err != nil {
			s.cfg.Logger.Error("logship: removing delivered batch failed", "err", err)

			return
		}
		s.cfg.Metrics.AddDelivered(len(batch))
	}
}

func (s *Shipper) recordPending(ctx context.Context) {
	count, err := s.queue.Size(ctx)
	if err != nil {
		return
	}
	s.cfg.Metrics.SetPending(count)
}

// boundBatch trims payloads to the byte ceiling, counting the newline
// separators the wire body will carry. The first payload is always kept so
// an oversized single entry cannot starve forever.
func boundBatch(payloads [][]byte, maxBytes int) [][]byte {
	total := 0
	for i, payload := range payloads {
		size := len(payload)
		if i > 0 {
			size++
		}
		if total+size > maxBytes && i > 0 {
			return payloads[:i]
		}
		total += size
	}

	return payloads
}
