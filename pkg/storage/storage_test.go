package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/types"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	bolt, err := NewBoltStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]Storage{
		"Memory":      NewMemory(),
		"BoltStorage": bolt,
	}
}

func TestStorage_TaskCRUD(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := uuid.New()

			txn, err := backend.Txn()
			require.NoError(t, err)
			require.NoError(t, txn.CreateTask(id, types.TaskMap{"description": "hi"}))
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			task, ok, err := txn.GetTask(id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "hi", task["description"])
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			require.NoError(t, txn.DeleteTask(id))
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			_, ok, err = txn.GetTask(id)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, txn.Commit())
		})
	}
}

func TestStorage_UncommittedTxnIsDiscarded(t *testing.T) {
	backend := NewMemory()
	id := uuid.New()

	txn, err := backend.Txn()
	require.NoError(t, err)
	require.NoError(t, txn.CreateTask(id, types.TaskMap{}))
	// Deliberately never call txn.Commit().
	_ = txn

	txn2, err := backend.Txn()
	require.NoError(t, err)
	_, ok, err := txn2.GetTask(id)
	require.NoError(t, err)
	assert.False(t, ok, "uncommitted mutations must not be visible")
	require.NoError(t, txn2.Commit())
}

func TestStorage_BaseVersionDefaultsToNil(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			txn, err := backend.Txn()
			require.NoError(t, err)
			v, err := txn.BaseVersion()
			require.NoError(t, err)
			assert.Equal(t, uuid.Nil, v)

			newVersion := uuid.New()
			require.NoError(t, txn.SetBaseVersion(newVersion))
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			v, err = txn.BaseVersion()
			require.NoError(t, err)
			assert.Equal(t, newVersion, v)
			require.NoError(t, txn.Commit())
		})
	}
}

func TestStorage_Operations(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := uuid.New()

			txn, err := backend.Txn()
			require.NoError(t, err)
			require.NoError(t, txn.AddOperation(ops.ReplicaCreate(id)))
			require.NoError(t, txn.AddOperation(ops.ReplicaUndoPoint()))
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			got, err := txn.Operations()
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, ops.KindCreate, got[0].Kind)
			assert.Equal(t, ops.KindUndoPoint, got[1].Kind)

			n, err := txn.NumLocalOperations()
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			u, err := txn.NumUndoPoints()
			require.NoError(t, err)
			assert.Equal(t, 1, u)

			require.NoError(t, txn.SetOperations(nil))
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			got, err = txn.Operations()
			require.NoError(t, err)
			assert.Empty(t, got)
			require.NoError(t, txn.Commit())
		})
	}
}

func TestStorage_WorkingSet(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id := uuid.New()

			txn, err := backend.Txn()
			require.NoError(t, err)
			require.NoError(t, txn.SetWorkingSetItem(1, &id))
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			ws, err := txn.WorkingSet()
			require.NoError(t, err)
			assert.Equal(t, id, ws[1])

			require.NoError(t, txn.SetWorkingSetItem(1, nil))
			require.NoError(t, txn.Commit())

			txn, err = backend.Txn()
			require.NoError(t, err)
			ws, err = txn.WorkingSet()
			require.NoError(t, err)
			assert.Empty(t, ws)
			require.NoError(t, txn.Commit())
		})
	}
}
