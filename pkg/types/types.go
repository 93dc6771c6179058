// Package types defines the data model shared by every layer of the
// replica: tasks, their well-known properties, and status values.
//
// No schema is enforced here — a TaskMap is just string keys to string
// values — but the constants below document the properties the rest of
// the module (and TaskWarrior-compatible tooling) understands.
package types

import "github.com/google/uuid"

// Uuid identifies a task or a version. The nil UUID (uuid.Nil) is used
// as the root of a version chain — it is never a real task id.
type Uuid = uuid.UUID

// TaskMap is the property bag backing a single task. An empty, non-nil
// TaskMap is a legal, existing task.
type TaskMap map[string]string

// Clone returns a deep copy of m.
func (m TaskMap) Clone() TaskMap {
	if m == nil {
		return nil
	}
	out := make(TaskMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Well-known property names.
const (
	PropDescription = "description"
	PropStatus      = "status"
	PropModified    = "modified"
	PropStart       = "start"
)

// Prefixes for dynamically-named properties.
const (
	TagPrefix        = "tag_"
	DepPrefix        = "dep_"
	AnnotationPrefix = "annotation_"
)

// Status is the value of the well-known "status" property.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
	StatusRecurring Status = "recurring"
	StatusWaiting   Status = "waiting"
)
