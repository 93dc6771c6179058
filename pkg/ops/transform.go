package ops

import (
	"bytes"
	"strconv"

	"github.com/taskchampion/tc/pkg/tcerr"
	"github.com/taskchampion/tc/pkg/types"
)

// Transform rebases two concurrent SyncOps against each other, returning
// the pair (a', b') such that applying a then b' has the same effect as
// applying b then a'. A nil return for either side means "drop this
// operation — it has no effect once the other has been applied".
//
// Ops on different tasks never interact and pass through unchanged. Ops
// on the same task are resolved as follows:
//
//   - Create/Create and Delete/Delete collapse to (nil, nil): the second
//     of two identical structural ops is redundant.
//   - Create paired with anything, or Delete paired with Create, passes
//     through unchanged — a Create can't conflict with a property change
//     or a later Delete.
//   - Delete/Update: the Update is dropped on whichever side sees the
//     Delete applied first, since there is no task left to carry the
//     property.
//   - Update/Update on the same property: the op with the later
//     Timestamp survives; the other is dropped. Equal timestamps are
//     broken by comparing the ops' canonical JSON encodings byte for
//     byte — the lexicographically greater encoding wins. Update/Update
//     on different properties passes through unchanged.
func Transform(a, b SyncOp) (*SyncOp, *SyncOp) {
	if a.UUID != b.UUID {
		return &a, &b
	}

	switch {
	case a.Kind == KindCreate && b.Kind == KindCreate:
		return nil, nil
	case a.Kind == KindDelete && b.Kind == KindDelete:
		return nil, nil
	case a.Kind == KindCreate || b.Kind == KindCreate:
		return &a, &b
	case a.Kind == KindDelete && b.Kind == KindUpdate:
		return &a, nil
	case a.Kind == KindUpdate && b.Kind == KindDelete:
		return nil, &b
	case a.Kind == KindUpdate && b.Kind == KindUpdate:
		if a.Property != b.Property {
			return &a, &b
		}
		if aWins(a, b) {
			return &a, nil
		}
		return nil, &b
	default:
		// Every pairing of Create, Delete and Update is handled by a
		// case above, so this branch is only reached for an op whose
		// Kind is none of the three.
		return &a, &b
	}
}

// aWins reports whether a should survive an Update/Update conflict on
// the same (uuid, property) pair.
func aWins(a, b SyncOp) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return bytes.Compare(canonicalBytes(a), canonicalBytes(b)) > 0
}

// Apply mutates store to reflect op, the way a replica's in-memory
// task map or a server's materialized snapshot would. It is the sole
// place that enforces the structural invariants a well-formed history
// must satisfy: Create never targets an existing task, and Delete/Update
// never target a missing one.
func Apply(store map[types.Uuid]types.TaskMap, op SyncOp) error {
	switch op.Kind {
	case KindCreate:
		if _, exists := store[op.UUID]; exists {
			return tcerr.ErrAlreadyExists
		}
		store[op.UUID] = types.TaskMap{}
		return nil

	case KindDelete:
		if _, exists := store[op.UUID]; !exists {
			return tcerr.ErrDoesNotExist
		}
		delete(store, op.UUID)
		return nil

	case KindUpdate:
		task, exists := store[op.UUID]
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
		store[op.UUID] = task
		return nil

	default:
		return tcerr.New(tcerr.Argument, "apply", errUnknownKind(op.Kind))
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

type errUnknownKind Kind

func (e errUnknownKind) Error() string { return "unknown op kind: " + string(e) }
