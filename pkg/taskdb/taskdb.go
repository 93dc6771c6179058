// Package taskdb is the replica's single entry point: it owns a
// storage.Storage, applies local operations to it, drives the sync
// protocol against a server, and answers queries the CLI needs.
package taskdb

import (
	"fmt"
	"strconv"

	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/storage"
	"github.com/taskchampion/tc/pkg/tcerr"
	"github.com/taskchampion/tc/pkg/types"
	"github.com/taskchampion/tc/pkg/workingset"
)

// TaskDb is this package's main type; Collector is its only other
// exported type.
type TaskDb struct {
	storage storage.Storage
}

// NewTaskDb wraps a Storage backend.
func NewTaskDb(s storage.Storage) *TaskDb {
	return &TaskDb{storage: s}
}

// Apply records op in the local operation log and applies its
// projected SyncOp to the task map, atomically. An UndoPoint op has no
// SyncOp projection and is recorded without touching any task.
//
// The first mutating op since startup or since the local log was last
// cleared by a sync push opens a new undoable batch; Apply marks its
// start with an undo point of its own before recording op, so that
// batch is revertible by Undo without a caller ever having to call
// AddUndoPoint first.
func (db *TaskDb) Apply(op ops.ReplicaOp) error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.New(tcerr.Storage, "apply", err)
	}

	if syncOp, ok := op.ToSyncOp(); ok {
		log, err := txn.Operations()
		if err != nil {
			return tcerr.New(tcerr.Storage, "apply", err)
		}
		if len(log) == 0 {
			if err := txn.AddOperation(ops.ReplicaUndoPoint()); err != nil {
				return tcerr.New(tcerr.Storage, "apply", err)
			}
		}
		if err := applyToTxn(txn, syncOp); err != nil {
			return err
		}
	}

	if err := txn.AddOperation(op); err != nil {
		return tcerr.New(tcerr.Storage, "apply", err)
	}

	if err := txn.Commit(); err != nil {
		return tcerr.New(tcerr.Storage, "apply", err)
	}
	return nil
}

// applyToTxn is ops.Apply's storage-backed twin: same structural
// invariants (Create never targets an existing task, Delete/Update
// never target a missing one), expressed against a Txn instead of a
// plain map.
func applyToTxn(txn storage.Txn, op ops.SyncOp) error {
	switch op.Kind {
	case ops.KindCreate:
		_, exists, err := txn.GetTask(op.UUID)
		if err != nil {
			return tcerr.New(tcerr.Storage, "apply", err)
		}
		if exists {
			return tcerr.ErrAlreadyExists
		}
		return wrapStorageErr(txn.CreateTask(op.UUID, types.TaskMap{}))

	case ops.KindDelete:
		_, exists, err := txn.GetTask(op.UUID)
		if err != nil {
			return tcerr.New(tcerr.Storage, "apply", err)
		}
		if !exists {
			return tcerr.ErrDoesNotExist
		}
		return wrapStorageErr(txn.DeleteTask(op.UUID))

	case ops.KindUpdate:
		task, exists, err := txn.GetTask(op.UUID)
		if err != nil {
			return tcerr.New(tcerr.Storage, "apply", err)
		}
		if !exists {
			return tcerr.ErrDoesNotExist
		}
		if isStale(task, op.Timestamp) {
			return nil
		}
		task = task.Clone()
		if op.Value == nil {
			delete(task, op.Property)
		} else {
			task[op.Property] = *op.Value
		}
		task[types.PropModified] = strconv.FormatInt(op.Timestamp, 10)
		return wrapStorageErr(txn.SetTask(op.UUID, task))

	default:
		return tcerr.New(tcerr.Argument, "apply", fmt.Errorf("unknown op kind %q", op.Kind))
	}
}

// isStale reports whether timestamp is strictly older than task's
// stored modified property, meaning an Update carrying it arrived
// after one that already superseded it and should be dropped rather
// than applied. A missing or unparseable modified value is never
// stale against.
func isStale(task types.TaskMap, timestamp int64) bool {
	modified, ok := task[types.PropModified]
	if !ok {
		return false
	}
	existing, err := strconv.ParseInt(modified, 10, 64)
	if err != nil {
		return false
	}
	return timestamp < existing
}

func wrapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	return tcerr.New(tcerr.Storage, "apply", err)
}

// GetTask returns a single task's property map.
func (db *TaskDb) GetTask(id types.Uuid) (types.TaskMap, bool, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, false, tcerr.New(tcerr.Storage, "get_task", err)
	}
	task, ok, err := txn.GetTask(id)
	if err != nil {
		return nil, false, tcerr.New(tcerr.Storage, "get_task", err)
	}
	return task, ok, txn.Commit()
}

// AllTasks returns every task in the replica.
func (db *TaskDb) AllTasks() (map[types.Uuid]types.TaskMap, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.New(tcerr.Storage, "all_tasks", err)
	}
	tasks, err := txn.AllTasks()
	if err != nil {
		return nil, tcerr.New(tcerr.Storage, "all_tasks", err)
	}
	return tasks, txn.Commit()
}

// AllTaskUUIDs returns every task uuid in the replica.
func (db *TaskDb) AllTaskUUIDs() ([]types.Uuid, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.New(tcerr.Storage, "all_task_uuids", err)
	}
	ids, err := txn.AllTaskUUIDs()
	if err != nil {
		return nil, tcerr.New(tcerr.Storage, "all_task_uuids", err)
	}
	return ids, txn.Commit()
}

// NumOperations reports how many local operations have not yet been
// synced to the server.
func (db *TaskDb) NumOperations() (int, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return 0, tcerr.New(tcerr.Storage, "num_operations", err)
	}
	n, err := txn.NumLocalOperations()
	if err != nil {
		return 0, tcerr.New(tcerr.Storage, "num_operations", err)
	}
	return n, txn.Commit()
}

// NumUndoPoints reports how many undo points are in the local log.
func (db *TaskDb) NumUndoPoints() (int, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return 0, tcerr.New(tcerr.Storage, "num_undo_points", err)
	}
	n, err := txn.NumUndoPoints()
	if err != nil {
		return 0, tcerr.New(tcerr.Storage, "num_undo_points", err)
	}
	return n, txn.Commit()
}

// WorkingSet returns the replica's current short-id projection.
func (db *TaskDb) WorkingSet() (workingset.Set, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return nil, tcerr.New(tcerr.Storage, "working_set", err)
	}
	ws, err := txn.WorkingSet()
	if err != nil {
		return nil, tcerr.New(tcerr.Storage, "working_set", err)
	}
	return workingset.Set(ws), txn.Commit()
}

// RebuildWorkingSet recomputes short ids from scratch against the
// default pending/waiting predicate, preserving existing indices for
// tasks that still qualify and appending newly-qualifying ones. Call
// this after a sync pulls in operations from elsewhere, or after a
// local mutation (like completing a task) changes who qualifies.
func (db *TaskDb) RebuildWorkingSet() error {
	return db.RebuildWorkingSetWith(workingset.DefaultPredicate, false)
}

// RebuildWorkingSetWith recomputes short ids from scratch so that
// exactly the tasks satisfying predicate are present. If renumber,
// every qualifying task is assigned a fresh contiguous index 1..N;
// otherwise tasks already holding an index keep it and new ones are
// appended.
func (db *TaskDb) RebuildWorkingSetWith(predicate workingset.Predicate, renumber bool) error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.New(tcerr.Storage, "rebuild_working_set", err)
	}

	tasks, err := txn.AllTasks()
	if err != nil {
		return tcerr.New(tcerr.Storage, "rebuild_working_set", err)
	}
	existing, err := txn.WorkingSet()
	if err != nil {
		return tcerr.New(tcerr.Storage, "rebuild_working_set", err)
	}

	rebuilt := workingset.Rebuild(tasks, workingset.Set(existing), predicate, renumber)

	if err := txn.ClearWorkingSet(); err != nil {
		return tcerr.New(tcerr.Storage, "rebuild_working_set", err)
	}
	for idx, id := range rebuilt {
		id := id
		if err := txn.SetWorkingSetItem(idx, &id); err != nil {
			return tcerr.New(tcerr.Storage, "rebuild_working_set", err)
		}
	}

	return wrapStorageErr(txn.Commit())
}

// AddToWorkingSet assigns id the next free short id, appended after the
// current largest index. Used right after a task is created.
func (db *TaskDb) AddToWorkingSet(id types.Uuid) (int, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return 0, tcerr.New(tcerr.Storage, "add_to_working_set", err)
	}
	existing, err := txn.WorkingSet()
	if err != nil {
		return 0, tcerr.New(tcerr.Storage, "add_to_working_set", err)
	}

	ws := workingset.Set(existing)
	index := ws.AddToEnd(id)

	if err := txn.SetWorkingSetItem(index, &id); err != nil {
		return 0, tcerr.New(tcerr.Storage, "add_to_working_set", err)
	}
	return index, wrapStorageErr(txn.Commit())
}

// AddUndoPoint appends an undo point to the local log, unless the log
// is empty or already ends with one — an undo point with no operations
// after it has nothing to undo.
func (db *TaskDb) AddUndoPoint() error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.New(tcerr.Storage, "add_undo_point", err)
	}

	log, err := txn.Operations()
	if err != nil {
		return tcerr.New(tcerr.Storage, "add_undo_point", err)
	}
	if len(log) == 0 || log[len(log)-1].Kind == ops.KindUndoPoint {
		return txn.Commit()
	}

	if err := txn.AddOperation(ops.ReplicaUndoPoint()); err != nil {
		return tcerr.New(tcerr.Storage, "add_undo_point", err)
	}
	return wrapStorageErr(txn.Commit())
}

// Close releases the underlying storage backend.
func (db *TaskDb) Close() error {
	return db.storage.Close()
}
