package taskdb

import (
	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/storage"
	"github.com/taskchampion/tc/pkg/tcerr"
)

// Undo reverts the most recent batch of local operations — everything
// appended since the last AddUndoPoint call, plus the undo point marker
// itself — restoring each touched task to its prior state. It reports
// false if there is nothing left to undo.
//
// Only local, not-yet-synced operations can be undone: once a batch has
// been pushed to the server it is gone from the local log (see
// TaskDb.Sync), and with it the ability to undo it.
func (db *TaskDb) Undo() (bool, error) {
	txn, err := db.storage.Txn()
	if err != nil {
		return false, tcerr.New(tcerr.Storage, "undo", err)
	}

	log, err := txn.Operations()
	if err != nil {
		return false, tcerr.New(tcerr.Storage, "undo", err)
	}
	if len(log) == 0 {
		return false, txn.Commit()
	}

	batchEnd := len(log)
	batchStart := batchEnd
	for batchStart > 0 && log[batchStart-1].Kind != ops.KindUndoPoint {
		batchStart--
	}
	if batchStart == 0 {
		// No undo point anywhere in the log: there is no properly
		// delimited batch to revert, even though operations exist.
		return false, txn.Commit()
	}
	// The undo point itself is consumed along with the batch it
	// precedes, so the next Undo call reaches the batch before it.
	batchStart--

	batch := log[batchStart:batchEnd]
	if len(batch) == 1 && batch[0].Kind == ops.KindUndoPoint {
		return false, txn.Commit()
	}

	// Revert in reverse application order: the last op applied is the
	// first to be undone.
	for i := len(batch) - 1; i >= 0; i-- {
		if err := revert(txn, batch[i]); err != nil {
			return false, err
		}
	}

	remaining := append([]ops.ReplicaOp(nil), log[:batchStart]...)
	if err := txn.SetOperations(remaining); err != nil {
		return false, tcerr.New(tcerr.Storage, "undo", err)
	}

	return true, wrapStorageErr(txn.Commit())
}

// revert restores the pre-op state for a single ReplicaOp.
func revert(txn storage.Txn, op ops.ReplicaOp) error {
	switch op.Kind {
	case ops.KindUndoPoint:
		return nil

	case ops.KindCreate:
		return wrapStorageErr(txn.DeleteTask(op.UUID))

	case ops.KindDelete:
		return wrapStorageErr(txn.SetTask(op.UUID, op.OldTask))

	case ops.KindUpdate:
		task, exists, err := txn.GetTask(op.UUID)
		if err != nil {
			return tcerr.New(tcerr.Storage, "undo", err)
		}
		if !exists {
			// The task was deleted by a later, already-synced
			// operation; there's nothing left to restore the
			// property on.
			return nil
		}
		task = task.Clone()
		if op.OldValue == nil {
			delete(task, op.Property)
		} else {
			task[op.Property] = *op.OldValue
		}
		return wrapStorageErr(txn.SetTask(op.UUID, task))

	default:
		return nil
	}
}
