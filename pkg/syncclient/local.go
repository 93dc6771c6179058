package syncclient

import (
	"context"

	"github.com/taskchampion/tc/pkg/syncserver"
	"github.com/taskchampion/tc/pkg/types"
)

// LocalServer wraps an in-process syncserver.Store as a Server. It
// exists for tests and for single-machine setups that sync between
// replicas without a network hop — e.g. two local checkouts sharing
// one server database file.
type LocalServer struct {
	store *syncserver.Store
}

// NewLocalServer wraps store.
func NewLocalServer(store *syncserver.Store) *LocalServer {
	return &LocalServer{store: store}
}

func (s *LocalServer) AddVersion(_ context.Context, clientID, parentVersionID, versionID types.Uuid, historySegment []byte) (SnapshotUrgency, error) {
	return s.store.AddVersion(clientID, parentVersionID, versionID, historySegment)
}

func (s *LocalServer) GetChildVersion(_ context.Context, clientID, parentVersionID types.Uuid) (ChildVersion, error) {
	return s.store.GetChildVersion(clientID, parentVersionID)
}

func (s *LocalServer) AddSnapshot(_ context.Context, clientID, versionID types.Uuid, snapshot []byte) error {
	return s.store.AddSnapshot(clientID, versionID, snapshot)
}

func (s *LocalServer) GetSnapshot(_ context.Context, clientID types.Uuid) (types.Uuid, []byte, bool, error) {
	return s.store.GetSnapshot(clientID)
}
