// Package sqlite provides the SQLite-backed durable queue used by logship.
//
// The store keeps one table of serialized log records keyed by an
// auto-increment id, so insertion order is delivery order and ids are never
// reused. It holds a single connection guarded by a mutex: SQLite handles
// are not safe for concurrent statements, and the delivery pipeline already
// serializes its passes, so one connection is all the store needs.
//
// Every operation that hits a storage fault closes and reopens the
// connection once and retries exactly once more before propagating the
// error. Batch appends run in a single IMMEDIATE transaction, so a crash
// mid-append never leaves a partial batch behind.
package sqlite
