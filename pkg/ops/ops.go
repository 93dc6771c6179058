// Package ops defines the two operation flavors that move task changes
// through the system — SyncOp (the wire form carried in history
// segments) and ReplicaOp (the local log form, which retains enough
// state to undo itself) — plus the transform function that lets two
// concurrent operations commute.
package ops

import (
	"encoding/json"

	"github.com/taskchampion/tc/pkg/types"
)

// Kind discriminates the variant of a SyncOp or ReplicaOp.
type Kind string

const (
	KindCreate     Kind = "create"
	KindDelete     Kind = "delete"
	KindUpdate     Kind = "update"
	KindUndoPoint  Kind = "undo_point" // ReplicaOp only
)

// SyncOp is the wire form of an operation: it carries no undo state and
// is what gets encrypted into a history segment.
type SyncOp struct {
	Kind Kind       `json:"kind"`
	UUID types.Uuid `json:"uuid"`

	// Update only.
	Property  string  `json:"property,omitempty"`
	Value     *string `json:"value,omitempty"` // nil means "delete this property"
	Timestamp int64   `json:"timestamp,omitempty"`
}

func Create(uuid types.Uuid) SyncOp {
	return SyncOp{Kind: KindCreate, UUID: uuid}
}

func Delete(uuid types.Uuid) SyncOp {
	return SyncOp{Kind: KindDelete, UUID: uuid}
}

func Update(uuid types.Uuid, property string, value *string, timestamp int64) SyncOp {
	return SyncOp{Kind: KindUpdate, UUID: uuid, Property: property, Value: value, Timestamp: timestamp}
}

// ReplicaOp is the local-log form: it records enough of the prior state
// to be inverted by undo.
type ReplicaOp struct {
	Kind Kind       `json:"kind"`
	UUID types.Uuid `json:"uuid,omitempty"`

	// Delete only.
	OldTask types.TaskMap `json:"old_task,omitempty"`

	// Update only.
	Property string  `json:"property,omitempty"`
	OldValue *string `json:"old_value,omitempty"`
	Value    *string `json:"value,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func ReplicaCreate(uuid types.Uuid) ReplicaOp {
	return ReplicaOp{Kind: KindCreate, UUID: uuid}
}

func ReplicaDelete(uuid types.Uuid, oldTask types.TaskMap) ReplicaOp {
	return ReplicaOp{Kind: KindDelete, UUID: uuid, OldTask: oldTask}
}

func ReplicaUpdate(uuid types.Uuid, property string, oldValue, value *string, timestamp int64) ReplicaOp {
	return ReplicaOp{Kind: KindUpdate, UUID: uuid, Property: property, OldValue: oldValue, Value: value, Timestamp: timestamp}
}

func ReplicaUndoPoint() ReplicaOp {
	return ReplicaOp{Kind: KindUndoPoint}
}

// ToSyncOp projects a ReplicaOp onto its wire form. The projection is
// lossy: undo state is dropped, and an UndoPoint has no SyncOp
// equivalent at all (ok is false).
func (o ReplicaOp) ToSyncOp() (SyncOp, bool) {
	switch o.Kind {
	case KindCreate:
		return Create(o.UUID), true
	case KindDelete:
		return Delete(o.UUID), true
	case KindUpdate:
		return Update(o.UUID, o.Property, o.Value, o.Timestamp), true
	default:
		return SyncOp{}, false
	}
}

// canonicalBytes returns a deterministic JSON encoding used only for
// the transform tiebreak (see Transform). SyncOp has no map-typed
// fields, so encoding/json's fixed struct field order already makes
// this deterministic across processes.
func canonicalBytes(op SyncOp) []byte {
	b, err := json.Marshal(op)
	if err != nil {
		// SyncOp's fields are all trivially marshalable; this cannot fail.
		panic(err)
	}
	return b
}
