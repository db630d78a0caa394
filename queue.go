package logship

import "context"

// Queue is an ordered, durable FIFO of serialized log records. Payloads are
// opaque to the queue; it never parses them. Implementations must serialize
// all operations internally so the queue is safe for concurrent use by the
// ingestion path and the delivery worker.
type Queue interface {
	// Append durably persists the payloads in order, atomically as one
	// batch. Appending nothing is a no-op.
	Append(ctx context.Context, payloads ...[]byte) error
	// Peek returns up to limit payloads in insertion order without
	// removing them.
	Peek(ctx context.Context, limit int) ([][]byte, error)
	// Remove deletes the count oldest payloads. Callers pair it with a
	// prior Peek under the single-writer delivery discipline, so Remove
	// always deletes exactly the payloads just peeked.
	Remove(ctx context.Context, count int) error
	// Requeue re-appends payloads for a later delivery attempt. The
	// payloads land at the back of the queue, so original insertion order
	// is not preserved across a requeue cycle.
	Requeue(ctx context.Context, payloads [][]byte) error
	// Size returns the current number of queued payloads.
	Size(ctx context.Context) (int, error)
	// Clear removes all payloads.
	Clear(ctx context.Context) error
	// Close releases the underlying storage. Idempotent.
	Close() error
}
