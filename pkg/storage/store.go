// Package storage defines the persistence boundary for a replica: the
// task map, the pending operation log, the server's base version
// marker, and the working set. Two backends are provided — Memory for
// tests and ephemeral replicas, and BoltStorage for a durable
// single-file embedded store.
package storage

import (
	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/types"
)

// Storage is a replica's persistence layer. Every mutation goes through
// a Txn; Storage itself only hands out transactions.
type Storage interface {
	// Txn opens a new transaction. Only one writable transaction may be
	// outstanding at a time — backends serialize concurrent callers
	// rather than detect and reject them.
	Txn() (Txn, error)

	// Close releases any resources (file handles, in-memory state)
	// held by the backend.
	Close() error
}

// Txn is a single unit of work against a Storage. Nothing is durable
// until Commit is called; dropping a Txn without committing discards
// every change made through it.
type Txn interface {
	// Task storage.
	GetTask(uuid types.Uuid) (types.TaskMap, bool, error)
	CreateTask(uuid types.Uuid, task types.TaskMap) error
	SetTask(uuid types.Uuid, task types.TaskMap) error
	DeleteTask(uuid types.Uuid) error
	AllTasks() (map[types.Uuid]types.TaskMap, error)
	AllTaskUUIDs() ([]types.Uuid, error)

	// BaseVersion is the version id of the last history segment this
	// replica has fully incorporated. uuid.Nil denotes "nothing synced
	// yet" (the root of the server's version chain).
	BaseVersion() (types.Uuid, error)
	SetBaseVersion(uuid types.Uuid) error

	// Operations is the local log: ReplicaOps applied since the
	// replica's last successful sync, oldest first.
	Operations() ([]ops.ReplicaOp, error)
	AddOperation(op ops.ReplicaOp) error
	SetOperations(ops []ops.ReplicaOp) error

	// WorkingSet is a sparse, 1-indexed mapping from small integers to
	// task uuids, used to give the CLI stable short ids. Index 0 is
	// never assigned.
	WorkingSet() (map[int]types.Uuid, error)
	SetWorkingSetItem(index int, uuid *types.Uuid) error
	ClearWorkingSet() error

	// NumLocalOperations and NumUndoPoints report the size of the local
	// log and its undo-point count, as TaskDb.NumOperations and
	// TaskDb.NumUndoPoints expose them.
	NumLocalOperations() (int, error)
	NumUndoPoints() (int, error)

	// Commit makes every change in the transaction durable. Txns that
	// are never committed (e.g. abandoned after an error) have no
	// effect.
	Commit() error
}
