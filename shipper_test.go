package logship

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeQueue struct {
	mu        sync.Mutex
	items     [][]byte
	appendErr error
	peekErr   error
	removeErr error
	peekCalls int
	closed    int
}

func (q *fakeQueue) Append(_ context.Context, payloads ...[]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.appendErr != nil {
		return q.appendErr
	}
	for _, payload := range payloads {
		q.items = append(q.items, append([]byte(nil), payload...))
	}
	return nil
}

func (q *fakeQueue) Peek(_ context.Context, limit int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.peekCalls++
	if q.peekErr != nil {
		return nil, q.peekErr
	}
	if limit > len(q.items) {
		limit = len(q.items)
	}
	out := make([][]byte, limit)
	copy(out, q.items[:limit])
	return out, nil
}

func (q *fakeQueue) Remove(_ context.Context, count int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.removeErr != nil {
		return q.removeErr
	}
	if count > len(q.items) {
		count = len(q.items)
	}
	q.items = q.items[count:]
	return nil
}

func (q *fakeQueue) Requeue(ctx context.Context, payloads [][]byte) error {
	return q.Append(ctx, payloads...)
}

func (q *fakeQueue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *fakeQueue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return nil
}

func (q *fakeQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed++
	return nil
}

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fakeQueue) peeks() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peekCalls
}

type fakeSender struct {
	mu       sync.Mutex
	batches  [][][]byte
	failures int
	closed   int
}

func (s *fakeSender) Send(_ context.Context, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([][]byte, len(payloads))
	copy(batch, payloads)
	s.batches = append(s.batches, batch)
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSender) sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *fakeSender) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, batch := range s.batches {
		sizes[i] = len(batch)
	}
	return sizes
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func newTestShipper(t *testing.T, queue Queue, sender Sender, opts ...Option) *Shipper {
	t.Helper()
	// Keep the timer out of the way unless a test opts back in.
	opts = append([]Option{WithFlushInterval(time.Hour)}, opts...)
	shipper, err := New("proj", "app_logs", queue, sender, opts...)
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	t.Cleanup(func() { _ = shipper.Close() })
	return shipper
}

func TestNewValidation(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}

	cases := []struct {
		name    string
		project string
		table   string
		queue   Queue
		sender  Sender
		err     error
	}{
		{"missing project", "", "t", queue, sender, ErrProjectRequired},
		{"missing table", "p", "", queue, sender, ErrTableRequired},
		{"missing queue", "p", "t", nil, sender, ErrQueueRequired},
		{"missing sender", "p", "t", queue, nil, ErrSenderRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.project, tc.table, tc.queue, tc.sender); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestShipperFlushDeliversInBoundedBatches(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender, WithBatchSize(10))

	for i := 0; i < 12; i++ {
		shipper.Info("entry", nil)
	}
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	eventually(t, func() bool { return queue.size() == 0 && sender.sends() == 2 })

	sizes := sender.batchSizes()
	if sizes[0] != 10 || sizes[1] != 2 {
		t.Fatalf("expected batches of 10 and 2, got %v", sizes)
	}
}

func TestShipperFailureEndsPass(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{failures: 1}
	shipper := newTestShipper(t, queue, sender, WithBatchSize(10))

	for i := 0; i < 5; i++ {
		shipper.Info("entry", nil)
	}
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	eventually(t, func() bool { return sender.sends() == 1 })
	if queue.size() != 5 {
		t.Fatalf("expected all 5 entries still queued, got %d", queue.size())
	}

	// No second attempt without a new trigger.
	time.Sleep(20 * time.Millisecond)
	if sender.sends() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", sender.sends())
	}

	// The next trigger retries the same batch and succeeds.
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	eventually(t, func() bool { return queue.size() == 0 })
	sizes := sender.batchSizes()
	if len(sizes) != 2 || sizes[1] != 5 {
		t.Fatalf("expected two attempts with a retried batch of 5, got %v", sizes)
	}
}

func TestShipperEmptyQueueNoNetwork(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender)

	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	eventually(t, func() bool { return queue.peeks() >= 1 })
	if sender.sends() != 0 {
		t.Fatalf("expected no sends for empty queue, got %d", sender.sends())
	}
}

func TestShipperOversizedEntrySentAlone(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender, WithBatchSize(10), WithMaxBatchBytes(32))

	big := string(bytes.Repeat([]byte("x"), 100))
	shipper.Info(big, nil)
	shipper.Info(big, nil)
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	eventually(t, func() bool { return queue.size() == 0 })

	sizes := sender.batchSizes()
	if len(sizes) != 2 || sizes[0] != 1 || sizes[1] != 1 {
		t.Fatalf("expected two single-entry batches, got %v", sizes)
	}
}

func TestShipperBufferThresholdTriggersDelivery(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender, WithBatchSize(3))

	shipper.Info("a", nil)
	shipper.Info("b", nil)
	if sender.sends() != 0 {
		t.Fatalf("expected no delivery before the threshold")
	}
	shipper.Info("c", nil)

	eventually(t, func() bool { return sender.sends() == 1 && queue.size() == 0 })
}

func TestShipperTimerDelivers(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper, err := New("proj", "app_logs", queue, sender, WithFlushInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}
	t.Cleanup(func() { _ = shipper.Close() })

	shipper.Info("entry", nil)

	eventually(t, func() bool { return sender.sends() == 1 && queue.size() == 0 })
}

func TestShipperLevelFilter(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender, WithMinLevel(LevelWarning))

	shipper.Debug("dropped", nil)
	shipper.Info("dropped", nil)
	shipper.Warning("kept", nil)

	pending, err := shipper.Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending entry, got %d", pending)
	}
}

func TestShipperStorageFaultDoesNotPropagate(t *testing.T) {
	queue := &fakeQueue{appendErr: errors.New("disk gone")}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender, WithBatchSize(1))

	// The threshold flush fails internally; logging must not panic or
	// surface the fault.
	shipper.Info("entry", nil)

	if err := shipper.Flush(); err == nil {
		t.Fatalf("expected explicit flush to report the storage fault")
	}

	// The entry stays buffered for a later flush.
	queue.mu.Lock()
	queue.appendErr = nil
	queue.mu.Unlock()
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush after recovery: %v", err)
	}
	eventually(t, func() bool { return sender.sends() == 1 })
}

func TestShipperPeekFaultAbortsPass(t *testing.T) {
	queue := &fakeQueue{peekErr: errors.New("db locked")}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender)

	shipper.Info("a", nil)
	shipper.Info("b", nil)
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// The pass aborts on the peek fault; nothing reaches the sender and
	// the queue keeps the persisted entries.
	eventually(t, func() bool { return queue.peeks() >= 1 })
	if sender.sends() != 0 {
		t.Fatalf("expected no sends after a peek fault, got %d", sender.sends())
	}
	if queue.size() != 2 {
		t.Fatalf("expected entries to remain queued, got %d", queue.size())
	}

	// The next trigger runs a normal pass once the fault clears.
	queue.mu.Lock()
	queue.peekErr = nil
	queue.mu.Unlock()
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush after recovery: %v", err)
	}
	eventually(t, func() bool { return sender.sends() == 1 && queue.size() == 0 })
}

func TestShipperRemoveFaultAbortsPass(t *testing.T) {
	queue := &fakeQueue{removeErr: errors.New("db locked")}
	sender := &fakeSender{}
	shipper := newTestShipper(t, queue, sender)

	shipper.Info("a", nil)
	shipper.Info("b", nil)
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// The batch was sent but the remove failed: the pass aborts and the
	// entries stay queued for redelivery.
	eventually(t, func() bool { return sender.sends() == 1 })
	if queue.size() != 2 {
		t.Fatalf("expected entries to remain queued, got %d", queue.size())
	}

	queue.mu.Lock()
	queue.removeErr = nil
	queue.mu.Unlock()
	if err := shipper.Flush(); err != nil {
		t.Fatalf("flush after recovery: %v", err)
	}
	eventually(t, func() bool { return queue.size() == 0 })
	if sender.sends() != 2 {
		t.Fatalf("expected the batch to be redelivered, got %d sends", sender.sends())
	}
}

func TestShipperCloseFlushesAndDrains(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper, err := New("proj", "app_logs", queue, sender, WithFlushInterval(time.Hour))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}

	shipper.Info("a", nil)
	shipper.Info("b", nil)

	if err := shipper.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sender.sends() != 1 || len(sender.batches[0]) != 2 {
		t.Fatalf("expected one final batch of 2, got %v", sender.batchSizes())
	}
	if queue.closed != 1 || sender.closed != 1 {
		t.Fatalf("expected resources closed once, got queue=%d sender=%d", queue.closed, sender.closed)
	}

	// Idempotent: no second drain, no double close.
	if err := shipper.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if sender.sends() != 1 || queue.closed != 1 || sender.closed != 1 {
		t.Fatalf("second close must be a no-op")
	}

	shipper.Info("after close", nil)
	if err := shipper.Flush(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestShipperCloseConcurrentWithLogging(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{}
	shipper, err := New("proj", "app_logs", queue, sender, WithFlushInterval(time.Hour))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				shipper.Info("entry", nil)
			}
		}()
	}

	if err := shipper.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()

	// Every entry accepted before the close flag was set must have been
	// flushed and delivered; none may be stranded in the buffer.
	shipper.bufMu.Lock()
	buffered := len(shipper.buf)
	shipper.bufMu.Unlock()
	if buffered != 0 {
		t.Fatalf("expected empty buffer after close, got %d entries", buffered)
	}
	if queue.size() != 0 {
		t.Fatalf("expected drained queue after close, got %d entries", queue.size())
	}

	delivered := 0
	for _, size := range sender.batchSizes() {
		delivered += size
	}
	if delivered > 200 {
		t.Fatalf("delivered more entries than were logged: %d", delivered)
	}
}

func TestShipperCloseWithFailingSink(t *testing.T) {
	queue := &fakeQueue{}
	sender := &fakeSender{failures: 10}
	shipper, err := New("proj", "app_logs", queue, sender, WithFlushInterval(time.Hour))
	if err != nil {
		t.Fatalf("new shipper: %v", err)
	}

	shipper.Info("a", nil)
	shipper.Info("b", nil)

	// Residual delivery failure is not an error: the entries stay
	// durably queued for the next start.
	if err := shipper.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sender.sends() != 1 {
		t.Fatalf("expected the final drain to stop after one failure, got %d sends", sender.sends())
	}
	if queue.size() != 2 {
		t.Fatalf("expected entries to remain queued, got %d", queue.size())
	}
}

func TestBoundBatch(t *testing.T) {
	p := func(n int) []byte { return bytes.Repeat([]byte("x"), n) }

	cases := []struct {
		name     string
		payloads [][]byte
		maxBytes int
		want     int
	}{
		{"all fit", [][]byte{p(4), p(4), p(4)}, 100, 3},
		{"split at cap", [][]byte{p(4), p(4), p(4)}, 9, 2},
		{"separator counted", [][]byte{p(4), p(4)}, 8, 1},
		{"first oversized kept", [][]byte{p(50), p(1)}, 10, 1},
		{"empty", nil, 10, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := boundBatch(tc.payloads, tc.maxBytes)
			if len(got) != tc.want {
				t.Fatalf("expected %d payloads, got %d", tc.want, len(got))
			}
		})
	}
}
