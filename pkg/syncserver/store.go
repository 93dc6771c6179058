// Package syncserver is the server side of the sync protocol: a
// per-client, append-only version chain with optimistic concurrency
// control, snapshot storage, and the garbage collection policy that
// bounds chain growth. It never sees plaintext — every history segment
// and snapshot it stores arrives pre-encrypted by the client.
package syncserver

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/taskchampion/tc/pkg/metrics"
	"github.com/taskchampion/tc/pkg/syncproto"
	"github.com/taskchampion/tc/pkg/tcerr"
	"github.com/taskchampion/tc/pkg/types"
)

var (
	bucketClients   = []byte("clients")   // client_id -> head version_id
	bucketVersions  = []byte("versions")  // client_id||version_id -> segment
	bucketParents   = []byte("parents")   // client_id||version_id -> parent version_id
	bucketChildren  = []byte("children")  // client_id||parent_version_id -> version_id
	bucketSnapshots = []byte("snapshots") // client_id -> version_id||data
)

// Policy configures when Store asks a client to send a fresh snapshot.
type Policy struct {
	// SnapshotVersions is how many versions may accumulate since the
	// last snapshot before the server starts hinting for one.
	SnapshotVersions int
	// VersionsUrgencyMultiplier raises SnapshotVersions by this factor
	// to decide when the hint escalates from Low to High.
	VersionsUrgencyMultiplier int
}

// DefaultPolicy is the policy cmd/tc-sync-server and the httpapi tests
// open the store with.
var DefaultPolicy = Policy{SnapshotVersions: 100, VersionsUrgencyMultiplier: 2}

// Store is the server-side persistence layer for every client's
// version chain. One Store instance serves every client id; per-client
// serialization is enforced with a mutex per client id layered on top
// of bbolt, since bbolt itself only serializes at the database level
// and AddVersion's compare-and-swap needs to be atomic per client.
type Store struct {
	db       *bolt.DB
	policy   Policy
	clientMu sync.Map // clientID -> *sync.Mutex
}

// Open opens (creating if necessary) a server database at
// <dataDir>/syncserver.db.
func Open(dataDir string, policy Policy) (*Store, error) {
	dbPath := filepath.Join(dataDir, "syncserver.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening server database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketClients, bucketVersions, bucketParents, bucketChildren, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, policy: policy}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lockFor(clientID types.Uuid) *sync.Mutex {
	mu, _ := s.clientMu.LoadOrStore(clientID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func compositeKey(clientID, id types.Uuid) []byte {
	key := make([]byte, 32)
	copy(key[:16], clientID[:])
	copy(key[16:], id[:])
	return key
}

func (s *Store) headVersion(tx *bolt.Tx, clientID types.Uuid) types.Uuid {
	data := tx.Bucket(bucketClients).Get(clientID[:])
	if data == nil {
		return uuid.Nil
	}
	id, err := uuid.FromBytes(data)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// AddVersion appends historySegment as versionID, chained after
// parentVersionID, provided parentVersionID is still the client's head
// (compare-and-swap). On success it returns a snapshot urgency hint
// based on how many versions have accumulated since the last snapshot.
func (s *Store) AddVersion(clientID, parentVersionID, versionID types.Uuid, historySegment []byte) (syncproto.SnapshotUrgency, error) {
	mu := s.lockFor(clientID)
	mu.Lock()
	defer mu.Unlock()

	var urgency syncproto.SnapshotUrgency
	err := s.db.Update(func(tx *bolt.Tx) error {
		head := s.headVersion(tx, clientID)
		if head != parentVersionID {
			return &syncproto.ConflictError{Expected: head}
		}

		if err := tx.Bucket(bucketVersions).Put(compositeKey(clientID, versionID), historySegment); err != nil {
			return err
		}
		if err := tx.Bucket(bucketParents).Put(compositeKey(clientID, versionID), parentVersionID[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketChildren).Put(compositeKey(clientID, parentVersionID), versionID[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketClients).Put(clientID[:], versionID[:]); err != nil {
			return err
		}

		urgency = s.urgencyLocked(tx, clientID)
		return nil
	})
	if err != nil {
		return syncproto.SnapshotNone, err
	}

	metrics.ServerVersionsTotal.Inc()
	return urgency, nil
}

// urgencyLocked computes the snapshot urgency hint; callers must hold
// the per-client lock and an active transaction.
func (s *Store) urgencyLocked(tx *bolt.Tx, clientID types.Uuid) syncproto.SnapshotUrgency {
	distance := s.distanceFromSnapshotLocked(tx, clientID)
	switch {
	case distance >= s.policy.SnapshotVersions*s.policy.VersionsUrgencyMultiplier:
		return syncproto.SnapshotHigh
	case distance >= s.policy.SnapshotVersions:
		return syncproto.SnapshotLow
	default:
		return syncproto.SnapshotNone
	}
}

// distanceFromSnapshotLocked walks the children index from the
// client's most recent snapshot (or the chain root if none exists) to
// the current head, counting hops.
func (s *Store) distanceFromSnapshotLocked(tx *bolt.Tx, clientID types.Uuid) int {
	start := uuid.Nil
	if data := tx.Bucket(bucketSnapshots).Get(clientID[:]); data != nil && len(data) >= 16 {
		id, err := uuid.FromBytes(data[:16])
		if err == nil {
			start = id
		}
	}

	distance := 0
	cur := start
	for {
		data := tx.Bucket(bucketChildren).Get(compositeKey(clientID, cur))
		if data == nil {
			break
		}
		child, err := uuid.FromBytes(data)
		if err != nil {
			break
		}
		cur = child
		distance++
	}
	return distance
}

// GetChildVersion returns the version chained after parentVersionID,
// if any.
func (s *Store) GetChildVersion(clientID, parentVersionID types.Uuid) (syncproto.ChildVersion, error) {
	var result syncproto.ChildVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketChildren).Get(compositeKey(clientID, parentVersionID))
		if data == nil {
			// No child entry means parentVersionID is either the head
			// (nothing newer to pull) or a version gc has removed, which
			// only the stored snapshot can bring the caller past.
			if parentVersionID != s.headVersion(tx, clientID) && tx.Bucket(bucketSnapshots).Get(clientID[:]) != nil {
				return tcerr.New(tcerr.Gone, "get_child_version", fmt.Errorf("version %s has been collected: %w", parentVersionID, syncproto.ErrGone))
			}
			result = syncproto.ChildVersion{Kind: syncproto.ChildNotFound}
			return nil
		}
		childID, err := uuid.FromBytes(data)
		if err != nil {
			return tcerr.New(tcerr.Storage, "get_child_version", err)
		}

		segment := tx.Bucket(bucketVersions).Get(compositeKey(clientID, childID))
		if segment == nil {
			// The version was referenced by the children index but its
			// payload is gone: it has been garbage collected.
			return tcerr.New(tcerr.Gone, "get_child_version", fmt.Errorf("version %s has been collected: %w", childID, syncproto.ErrGone))
		}

		result = syncproto.ChildVersion{
			Kind:           syncproto.ChildFound,
			VersionID:      childID,
			Parent:         parentVersionID,
			HistorySegment: append([]byte(nil), segment...),
		}
		return nil
	})
	return result, err
}

// AddSnapshot stores a snapshot taken at versionID, then garbage
// collects every version strictly older than it. versionID is only
// accepted when it is the client's current head and strictly newer
// than whatever snapshot is already stored; anything else is a stale
// or forged submission and is silently discarded (still reported to
// the caller as success, per the wire protocol), since acting on it
// would gc away versions the client's chain still depends on.
func (s *Store) AddSnapshot(clientID, versionID types.Uuid, data []byte) error {
	mu := s.lockFor(clientID)
	mu.Lock()
	defer mu.Unlock()

	accepted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		if versionID != s.headVersion(tx, clientID) {
			return nil
		}
		if existing := tx.Bucket(bucketSnapshots).Get(clientID[:]); existing != nil && len(existing) >= 16 {
			existingVersionID, err := uuid.FromBytes(existing[:16])
			if err == nil && existingVersionID == versionID {
				return nil
			}
		}

		payload := make([]byte, 16+len(data))
		copy(payload[:16], versionID[:])
		copy(payload[16:], data)
		if err := tx.Bucket(bucketSnapshots).Put(clientID[:], payload); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil {
		return tcerr.New(tcerr.Storage, "add_snapshot", err)
	}
	if !accepted {
		return nil
	}

	return s.gc(clientID, versionID)
}

// GetSnapshot returns the client's most recent snapshot, if any.
func (s *Store) GetSnapshot(clientID types.Uuid) (types.Uuid, []byte, bool, error) {
	var versionID types.Uuid
	var data []byte
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket(bucketSnapshots).Get(clientID[:])
		if payload == nil || len(payload) < 16 {
			return nil
		}
		id, err := uuid.FromBytes(payload[:16])
		if err != nil {
			return tcerr.New(tcerr.Storage, "get_snapshot", err)
		}
		versionID = id
		data = append([]byte(nil), payload[16:]...)
		found = true
		return nil
	})
	return versionID, data, found, err
}

// gc deletes every version strictly older than keepFrom by walking the
// children index from the chain root, stopping once it reaches
// keepFrom. It runs after every successful AddSnapshot since a
// snapshot makes all prior history unnecessary for any replica that
// adopts it.
func (s *Store) gc(clientID, keepFrom types.Uuid) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		cur := uuid.Nil
		for cur != keepFrom {
			childKey := compositeKey(clientID, cur)
			data := tx.Bucket(bucketChildren).Get(childKey)
			if data == nil {
				break
			}
			child, err := uuid.FromBytes(data)
			if err != nil {
				return err
			}
			if child == keepFrom {
				break
			}

			if err := tx.Bucket(bucketVersions).Delete(compositeKey(clientID, child)); err != nil {
				return err
			}
			if err := tx.Bucket(bucketParents).Delete(compositeKey(clientID, child)); err != nil {
				return err
			}
			if cur != uuid.Nil {
				if err := tx.Bucket(bucketChildren).Delete(childKey); err != nil {
					return err
				}
			}

			cur = child
			if cur == keepFrom {
				break
			}
		}
		return nil
	})
	if err != nil {
		return tcerr.New(tcerr.Storage, "gc", err)
	}
	metrics.ServerGCRunsTotal.Inc()
	return nil
}
