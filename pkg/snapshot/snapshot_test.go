package snapshot

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tc/pkg/types"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tasks := map[types.Uuid]types.TaskMap{
		uuid.New(): {"description": "buy milk", "status": "pending"},
		uuid.New(): {"description": "a\nb\tc \"quoted\""},
	}

	data, err := Encode(tasks)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, tasks, got)
}

func TestEncodeDecode_Empty(t *testing.T) {
	data, err := Encode(map[types.Uuid]types.TaskMap{})
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not a valid deflate stream"))
	assert.Error(t, err)
}

func TestEncode_IsSmallerThanRawJSONForRepetitiveData(t *testing.T) {
	tasks := map[types.Uuid]types.TaskMap{}
	for i := 0; i < 50; i++ {
		tasks[uuid.New()] = types.TaskMap{"description": "repeated task description text"}
	}

	data, err := Encode(tasks)
	require.NoError(t, err)

	raw := 0
	for _, tm := range tasks {
		raw += len(tm["description"]) + 36
	}
	assert.Less(t, len(data), raw)
}
