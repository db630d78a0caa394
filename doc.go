// Package logship ships structured log entries to a remote HTTP sink through
// a durable on-disk queue, so entries survive process restarts and sink outages.
//
// Typical flow:
//  1. Open a durable Queue (see the sqlite package) and an HTTPSender pointed at the sink.
//  2. Construct a Shipper with New and log through its level methods; entries are buffered and persisted to the queue.
//  3. A background worker drains the queue in count- and byte-bounded batches; a failed batch stays at the front of the queue and is retried on the next trigger.
//  4. Close flushes the buffer and attempts one final synchronous drain; anything the sink still rejects remains durably queued for the next start.
package logship
