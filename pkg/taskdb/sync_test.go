package taskdb

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskchampion/tc/pkg/cryptor"
	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/snapshot"
	"github.com/taskchampion/tc/pkg/storage"
	"github.com/taskchampion/tc/pkg/syncclient"
	"github.com/taskchampion/tc/pkg/tcerr"
	"github.com/taskchampion/tc/pkg/types"
)

// fakeServer is an in-memory syncclient.Server shared by multiple
// replicas within a test, the way a real sync server is shared by
// multiple devices for one account.
type fakeServer struct {
	mu        sync.Mutex
	chain     map[types.Uuid]chainEntry // versionID -> entry
	children  map[types.Uuid]types.Uuid // parentID -> childID
	head      map[types.Uuid]types.Uuid // clientID -> head versionID
	snapshots map[types.Uuid]snapshotEntry
}

type chainEntry struct {
	parent  types.Uuid
	segment []byte
}

type snapshotEntry struct {
	versionID types.Uuid
	data      []byte
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		chain:     map[types.Uuid]chainEntry{},
		children:  map[types.Uuid]types.Uuid{},
		head:      map[types.Uuid]types.Uuid{},
		snapshots: map[types.Uuid]snapshotEntry{},
	}
}

func (s *fakeServer) AddVersion(_ context.Context, clientID, parentVersionID, versionID types.Uuid, historySegment []byte) (syncclient.SnapshotUrgency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.head[clientID] != parentVersionID {
		return syncclient.SnapshotNone, &syncclient.ConflictError{Expected: s.head[clientID]}
	}

	s.chain[versionID] = chainEntry{parent: parentVersionID, segment: historySegment}
	s.children[parentVersionID] = versionID
	s.head[clientID] = versionID
	return syncclient.SnapshotNone, nil
}

func (s *fakeServer) GetChildVersion(_ context.Context, clientID, parentVersionID types.Uuid) (syncclient.ChildVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	childID, ok := s.children[parentVersionID]
	if !ok {
		return syncclient.ChildVersion{Kind: syncclient.ChildNotFound}, nil
	}
	entry := s.chain[childID]
	return syncclient.ChildVersion{
		Kind:           syncclient.ChildFound,
		VersionID:      childID,
		Parent:         entry.parent,
		HistorySegment: entry.segment,
	}, nil
}

func (s *fakeServer) AddSnapshot(_ context.Context, clientID, versionID types.Uuid, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[clientID] = snapshotEntry{versionID: versionID, data: data}
	return nil
}

func (s *fakeServer) GetSnapshot(_ context.Context, clientID types.Uuid) (types.Uuid, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.snapshots[clientID]
	if !ok {
		return uuid.Nil, nil, false, nil
	}
	return entry.versionID, entry.data, true, nil
}

func newCryptor(t *testing.T) *cryptor.Cryptor {
	t.Helper()
	c, err := cryptor.New([]byte("test secret"), uuid.New())
	require.NoError(t, err)
	return c
}

func TestSync_PushThenPullConverge(t *testing.T) {
	server := newFakeServer()
	secret := []byte("shared secret")
	clientID := uuid.New()

	cA, err := cryptor.New(secret, clientID)
	require.NoError(t, err)
	cB, err := cryptor.New(secret, clientID)
	require.NoError(t, err)

	dbA := NewTaskDb(storage.NewMemory())
	dbB := NewTaskDb(storage.NewMemory())

	id := uuid.New()
	require.NoError(t, dbA.Apply(ops.ReplicaCreate(id)))
	require.NoError(t, dbA.Apply(ops.ReplicaUpdate(id, "description", nil, strp("from A"), 1)))
	require.NoError(t, dbA.Sync(context.Background(), server, cA, clientID, true))

	require.NoError(t, dbB.Sync(context.Background(), server, cB, clientID, true))

	task, ok, err := dbB.GetTask(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from A", task["description"])
}

func TestSync_ConcurrentEditsOnDifferentPropertiesBothSurvive(t *testing.T) {
	server := newFakeServer()
	secret := []byte("shared secret")
	clientID := uuid.New()
	cA, _ := cryptor.New(secret, clientID)
	cB, _ := cryptor.New(secret, clientID)

	dbA := NewTaskDb(storage.NewMemory())
	dbB := NewTaskDb(storage.NewMemory())

	id := uuid.New()
	require.NoError(t, dbA.Apply(ops.ReplicaCreate(id)))
	require.NoError(t, dbA.Sync(context.Background(), server, cA, clientID, true))
	require.NoError(t, dbB.Sync(context.Background(), server, cB, clientID, true))

	require.NoError(t, dbA.Apply(ops.ReplicaUpdate(id, "description", nil, strp("a desc"), 10)))
	require.NoError(t, dbB.Apply(ops.ReplicaUpdate(id, "priority", nil, strp("H"), 10)))

	require.NoError(t, dbA.Sync(context.Background(), server, cA, clientID, true))
	require.NoError(t, dbB.Sync(context.Background(), server, cB, clientID, true))
	require.NoError(t, dbA.Sync(context.Background(), server, cA, clientID, true))

	taskA, _, err := dbA.GetTask(id)
	require.NoError(t, err)
	taskB, _, err := dbB.GetTask(id)
	require.NoError(t, err)

	assert.Equal(t, taskA, taskB)
	assert.Equal(t, "a desc", taskA["description"])
	assert.Equal(t, "H", taskA["priority"])
}

func TestSync_ConflictingUpdateConvergesOnLatestTimestamp(t *testing.T) {
	server := newFakeServer()
	secret := []byte("shared secret")
	clientID := uuid.New()
	cA, _ := cryptor.New(secret, clientID)
	cB, _ := cryptor.New(secret, clientID)

	dbA := NewTaskDb(storage.NewMemory())
	dbB := NewTaskDb(storage.NewMemory())

	id := uuid.New()
	require.NoError(t, dbA.Apply(ops.ReplicaCreate(id)))
	require.NoError(t, dbA.Sync(context.Background(), server, cA, clientID, true))
	require.NoError(t, dbB.Sync(context.Background(), server, cB, clientID, true))

	require.NoError(t, dbA.Apply(ops.ReplicaUpdate(id, "description", nil, strp("older"), 100)))
	require.NoError(t, dbB.Apply(ops.ReplicaUpdate(id, "description", nil, strp("newer"), 200)))

	require.NoError(t, dbA.Sync(context.Background(), server, cA, clientID, true))
	require.NoError(t, dbB.Sync(context.Background(), server, cB, clientID, true))
	require.NoError(t, dbA.Sync(context.Background(), server, cA, clientID, true))

	taskA, _, err := dbA.GetTask(id)
	require.NoError(t, err)
	taskB, _, err := dbB.GetTask(id)
	require.NoError(t, err)

	assert.Equal(t, "newer", taskA["description"])
	assert.Equal(t, taskA, taskB)
}

func TestSync_EmptyLocalLogIsANoOp(t *testing.T) {
	server := newFakeServer()
	clientID := uuid.New()
	c := newCryptor(t)

	db := NewTaskDb(storage.NewMemory())
	require.NoError(t, db.Sync(context.Background(), server, c, clientID, true))
	require.NoError(t, db.Sync(context.Background(), server, c, clientID, true))
}

// goneOnceServer wraps a fakeServer and forces its first
// GetChildVersion call to report ErrGone, simulating a replica whose
// base version has fallen off the server's retained history.
type goneOnceServer struct {
	*fakeServer
	returnedGone bool
}

func (s *goneOnceServer) GetChildVersion(ctx context.Context, clientID, parentVersionID types.Uuid) (syncclient.ChildVersion, error) {
	if !s.returnedGone {
		s.returnedGone = true
		return syncclient.ChildVersion{}, syncclient.ErrGone
	}
	return s.fakeServer.GetChildVersion(ctx, clientID, parentVersionID)
}

func TestSync_SnapshotCatchupRestoresState(t *testing.T) {
	base := newFakeServer()
	secret := []byte("shared secret")
	clientID := uuid.New()
	cA, _ := cryptor.New(secret, clientID)
	cB, _ := cryptor.New(secret, clientID)

	dbA := NewTaskDb(storage.NewMemory())
	id := uuid.New()
	require.NoError(t, dbA.Apply(ops.ReplicaCreate(id)))
	require.NoError(t, dbA.Apply(ops.ReplicaUpdate(id, "description", nil, strp("snapshot me"), 1)))
	require.NoError(t, dbA.Sync(context.Background(), base, cA, clientID, true))

	tasks, err := dbA.AllTasks()
	require.NoError(t, err)
	plaintext, err := snapshot.Encode(tasks)
	require.NoError(t, err)
	head := base.head[clientID]
	sealed, err := cA.Seal(head, plaintext)
	require.NoError(t, err)
	require.NoError(t, base.AddSnapshot(context.Background(), clientID, head, sealed))

	server := &goneOnceServer{fakeServer: base}
	dbB := NewTaskDb(storage.NewMemory())
	require.NoError(t, dbB.Sync(context.Background(), server, cB, clientID, true))

	got, ok, err := dbB.GetTask(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "snapshot me", got["description"])
}

func TestSync_SnapshotCatchupRefusesWithPendingLocalOps(t *testing.T) {
	base := newFakeServer()
	secret := []byte("shared secret")
	clientID := uuid.New()
	cA, _ := cryptor.New(secret, clientID)
	cB, _ := cryptor.New(secret, clientID)

	dbA := NewTaskDb(storage.NewMemory())
	id := uuid.New()
	require.NoError(t, dbA.Apply(ops.ReplicaCreate(id)))
	require.NoError(t, dbA.Sync(context.Background(), base, cA, clientID, true))

	tasks, err := dbA.AllTasks()
	require.NoError(t, err)
	plaintext, err := snapshot.Encode(tasks)
	require.NoError(t, err)
	head := base.head[clientID]
	sealed, err := cA.Seal(head, plaintext)
	require.NoError(t, err)
	require.NoError(t, base.AddSnapshot(context.Background(), clientID, head, sealed))

	server := &goneOnceServer{fakeServer: base}
	dbB := NewTaskDb(storage.NewMemory())
	pendingID := uuid.New()
	require.NoError(t, dbB.Apply(ops.ReplicaCreate(pendingID)))

	err = dbB.Sync(context.Background(), server, cB, clientID, true)
	require.Error(t, err)
	assert.Equal(t, tcerr.Conflict, tcerr.KindOf(err))
}
