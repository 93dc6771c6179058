package storage

import (
	"sync"

	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/types"
)

// Memory is an in-process Storage backend. It is the backend of choice
// for tests and for replicas that don't need to survive a restart.
type Memory struct {
	// txnMu serializes transactions the same way bbolt serializes
	// writers: Txn acquires it and Commit releases it. A Txn that is
	// dropped without being committed leaves it held — callers are
	// expected to always reach Commit or return an error up the stack.
	txnMu sync.Mutex

	tasks       map[types.Uuid]types.TaskMap
	baseVersion types.Uuid
	operations  []ops.ReplicaOp
	workingSet  map[int]types.Uuid
}

// NewMemory constructs an empty in-memory replica store.
func NewMemory() *Memory {
	return &Memory{
		tasks:      map[types.Uuid]types.TaskMap{},
		workingSet: map[int]types.Uuid{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Txn() (Txn, error) {
	m.txnMu.Lock()
	return &memoryTxn{
		parent:      m,
		tasks:       cloneTasks(m.tasks),
		baseVersion: m.baseVersion,
		operations:  append([]ops.ReplicaOp(nil), m.operations...),
		workingSet:  cloneWorkingSet(m.workingSet),
	}, nil
}

func cloneTasks(m map[types.Uuid]types.TaskMap) map[types.Uuid]types.TaskMap {
	out := make(map[types.Uuid]types.TaskMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

func cloneWorkingSet(m map[int]types.Uuid) map[int]types.Uuid {
	out := make(map[int]types.Uuid, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// memoryTxn operates on a private copy of the parent's state; Commit
// publishes that copy back to the parent and releases txnMu.
type memoryTxn struct {
	parent *Memory

	tasks       map[types.Uuid]types.TaskMap
	baseVersion types.Uuid
	operations  []ops.ReplicaOp
	workingSet  map[int]types.Uuid
}

func (t *memoryTxn) GetTask(uuid types.Uuid) (types.TaskMap, bool, error) {
	task, ok := t.tasks[uuid]
	return task.Clone(), ok, nil
}

func (t *memoryTxn) CreateTask(uuid types.Uuid, task types.TaskMap) error {
	t.tasks[uuid] = task.Clone()
	return nil
}

func (t *memoryTxn) SetTask(uuid types.Uuid, task types.TaskMap) error {
	t.tasks[uuid] = task.Clone()
	return nil
}

func (t *memoryTxn) DeleteTask(uuid types.Uuid) error {
	delete(t.tasks, uuid)
	return nil
}

func (t *memoryTxn) AllTasks() (map[types.Uuid]types.TaskMap, error) {
	return cloneTasks(t.tasks), nil
}

func (t *memoryTxn) AllTaskUUIDs() ([]types.Uuid, error) {
	out := make([]types.Uuid, 0, len(t.tasks))
	for k := range t.tasks {
		out = append(out, k)
	}
	return out, nil
}

func (t *memoryTxn) BaseVersion() (types.Uuid, error) {
	return t.baseVersion, nil
}

func (t *memoryTxn) SetBaseVersion(uuid types.Uuid) error {
	t.baseVersion = uuid
	return nil
}

func (t *memoryTxn) Operations() ([]ops.ReplicaOp, error) {
	return append([]ops.ReplicaOp(nil), t.operations...), nil
}

func (t *memoryTxn) AddOperation(op ops.ReplicaOp) error {
	t.operations = append(t.operations, op)
	return nil
}

func (t *memoryTxn) SetOperations(newOps []ops.ReplicaOp) error {
	t.operations = append([]ops.ReplicaOp(nil), newOps...)
	return nil
}

func (t *memoryTxn) WorkingSet() (map[int]types.Uuid, error) {
	return cloneWorkingSet(t.workingSet), nil
}

func (t *memoryTxn) SetWorkingSetItem(index int, uuid *types.Uuid) error {
	if uuid == nil {
		delete(t.workingSet, index)
		return nil
	}
	t.workingSet[index] = *uuid
	return nil
}

func (t *memoryTxn) ClearWorkingSet() error {
	t.workingSet = map[int]types.Uuid{}
	return nil
}

func (t *memoryTxn) NumLocalOperations() (int, error) {
	return len(t.operations), nil
}

func (t *memoryTxn) NumUndoPoints() (int, error) {
	n := 0
	for _, op := range t.operations {
		if op.Kind == ops.KindUndoPoint {
			n++
		}
	}
	return n, nil
}

func (t *memoryTxn) Commit() error {
	t.parent.tasks = t.tasks
	t.parent.baseVersion = t.baseVersion
	t.parent.operations = t.operations
	t.parent.workingSet = t.workingSet
	t.parent.txnMu.Unlock()
	return nil
}
