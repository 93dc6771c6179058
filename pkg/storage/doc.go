// Package storage — backend notes.
//
// Memory keeps the whole replica in process memory behind a mutex; it
// exists for tests and for short-lived replicas that don't need to
// survive a restart.
//
// BoltStorage persists to a single bbolt file. bbolt gives us the
// concurrency story for free: it takes an OS file lock on Open and
// serializes writers internally, so "only one writable transaction at
// a time" (the Storage interface's requirement) falls out of the
// backend rather than needing its own locking layer.
//
// Both backends store the same four logical collections:
//
//   - tasks: uuid -> TaskMap, the current materialized state.
//   - operations: the local ReplicaOp log, oldest first.
//   - sync_meta: scalar values, currently just the base version.
//   - working_set: sparse int -> uuid, the CLI's short-id projection.
package storage
