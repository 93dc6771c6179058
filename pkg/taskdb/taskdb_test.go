package taskdb

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/storage"
	"github.com/taskchampion/tc/pkg/types"
)

func TestApply_UpdateBumpsModified(t *testing.T) {
	db := NewTaskDb(storage.NewMemory())
	id := uuid.New()
	require.NoError(t, db.Apply(ops.ReplicaCreate(id)))

	require.NoError(t, db.Apply(ops.ReplicaUpdate(id, "description", nil, strp("hello"), 5)))

	task, ok, err := db.GetTask(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5", task[types.PropModified])
}

func TestApply_UpdateOlderThanModifiedIsDropped(t *testing.T) {
	db := NewTaskDb(storage.NewMemory())
	id := uuid.New()
	require.NoError(t, db.Apply(ops.ReplicaCreate(id)))
	require.NoError(t, db.Apply(ops.ReplicaUpdate(id, "description", nil, strp("hello"), 10)))

	require.NoError(t, db.Apply(ops.ReplicaUpdate(id, "description", nil, strp("stale write"), 3)))

	task, ok, err := db.GetTask(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", task["description"])
	assert.Equal(t, "10", task[types.PropModified])
}
