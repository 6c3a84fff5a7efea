// Package store provides SQLite-backed durable storage for the cloud server's
// key table.
//
// Every accepted write is stamped with a version from the server's logical
// clock. Writes whose content hash matches the stored row are reported as
// unchanged and leave the row (including its version) untouched, so the server
// never broadcasts a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Ordering is by version, never by wall time. Snapshot results are sorted by
// key so that two reads of the same table are byte-identical.
package store
