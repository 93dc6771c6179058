package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/types"
)

var (
	bucketTasks      = []byte("tasks")
	bucketOperations = []byte("operations")
	bucketSyncMeta   = []byte("sync_meta")
	bucketWorkingSet = []byte("working_set")
)

var keyBaseVersion = []byte("base_version")

// BoltStorage is a durable, single-file replica store. Concurrency is
// bounded by bbolt itself: a process obtains an OS file lock on open,
// and bbolt serializes writers internally, so a second writable
// transaction simply blocks until the first commits or rolls back.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage opens (creating if necessary) a replica database at
// <dataDir>/taskchampion.db.
func NewBoltStorage(dataDir string) (*BoltStorage, error) {
	dbPath := filepath.Join(dataDir, "taskchampion.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening replica database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketOperations, bucketSyncMeta, bucketWorkingSet} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) Close() error { return s.db.Close() }

// Txn opens a writable bbolt transaction. The returned Txn must be
// committed; a bolt.Tx that is never committed or rolled back holds
// bbolt's single writer lock indefinitely.
func (s *BoltStorage) Txn() (Txn, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &boltTxn{tx: tx}, nil
}

type boltTxn struct {
	tx *bolt.Tx
}

func (t *boltTxn) GetTask(id types.Uuid) (types.TaskMap, bool, error) {
	data := t.tx.Bucket(bucketTasks).Get(id[:])
	if data == nil {
		return nil, false, nil
	}
	var task types.TaskMap
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, false, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return task, true, nil
}

func (t *boltTxn) putTask(id types.Uuid, task types.TaskMap) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", id, err)
	}
	return t.tx.Bucket(bucketTasks).Put(id[:], data)
}

func (t *boltTxn) CreateTask(id types.Uuid, task types.TaskMap) error { return t.putTask(id, task) }
func (t *boltTxn) SetTask(id types.Uuid, task types.TaskMap) error    { return t.putTask(id, task) }

func (t *boltTxn) DeleteTask(id types.Uuid) error {
	return t.tx.Bucket(bucketTasks).Delete(id[:])
}

func (t *boltTxn) AllTasks() (map[types.Uuid]types.TaskMap, error) {
	out := map[types.Uuid]types.TaskMap{}
	err := t.tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
		id, err := uuid.FromBytes(k)
		if err != nil {
			return fmt.Errorf("decoding task key: %w", err)
		}
		var task types.TaskMap
		if err := json.Unmarshal(v, &task); err != nil {
			return fmt.Errorf("decoding task %s: %w", id, err)
		}
		out[id] = task
		return nil
	})
	return out, err
}

func (t *boltTxn) AllTaskUUIDs() ([]types.Uuid, error) {
	var out []types.Uuid
	err := t.tx.Bucket(bucketTasks).ForEach(func(k, _ []byte) error {
		id, err := uuid.FromBytes(k)
		if err != nil {
			return fmt.Errorf("decoding task key: %w", err)
		}
		out = append(out, id)
		return nil
	})
	return out, err
}

func (t *boltTxn) BaseVersion() (types.Uuid, error) {
	data := t.tx.Bucket(bucketSyncMeta).Get(keyBaseVersion)
	if data == nil {
		return uuid.Nil, nil
	}
	id, err := uuid.FromBytes(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decoding base version: %w", err)
	}
	return id, nil
}

func (t *boltTxn) SetBaseVersion(id types.Uuid) error {
	return t.tx.Bucket(bucketSyncMeta).Put(keyBaseVersion, id[:])
}

// Operations are stored under sequential uint64 keys so ForEach walks
// them in insertion order.
func (t *boltTxn) Operations() ([]ops.ReplicaOp, error) {
	var out []ops.ReplicaOp
	err := t.tx.Bucket(bucketOperations).ForEach(func(_, v []byte) error {
		var op ops.ReplicaOp
		if err := json.Unmarshal(v, &op); err != nil {
			return fmt.Errorf("decoding operation: %w", err)
		}
		out = append(out, op)
		return nil
	})
	return out, err
}

func (t *boltTxn) AddOperation(op ops.ReplicaOp) error {
	b := t.tx.Bucket(bucketOperations)
	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("allocating operation sequence: %w", err)
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encoding operation: %w", err)
	}
	return b.Put(seqKey(seq), data)
}

func (t *boltTxn) SetOperations(newOps []ops.ReplicaOp) error {
	b := t.tx.Bucket(bucketOperations)
	if err := clearBucket(t.tx, bucketOperations); err != nil {
		return err
	}
	for _, op := range newOps {
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating operation sequence: %w", err)
		}
		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("encoding operation: %w", err)
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTxn) WorkingSet() (map[int]types.Uuid, error) {
	out := map[int]types.Uuid{}
	err := t.tx.Bucket(bucketWorkingSet).ForEach(func(k, v []byte) error {
		index := int(binary.BigEndian.Uint32(k))
		id, err := uuid.FromBytes(v)
		if err != nil {
			return fmt.Errorf("decoding working set entry %d: %w", index, err)
		}
		out[index] = id
		return nil
	})
	return out, err
}

func (t *boltTxn) SetWorkingSetItem(index int, id *types.Uuid) error {
	b := t.tx.Bucket(bucketWorkingSet)
	key := indexKey(index)
	if id == nil {
		return b.Delete(key)
	}
	return b.Put(key, id[:])
}

func (t *boltTxn) ClearWorkingSet() error {
	return clearBucket(t.tx, bucketWorkingSet)
}

func (t *boltTxn) NumLocalOperations() (int, error) {
	return t.tx.Bucket(bucketOperations).Stats().KeyN, nil
}

func (t *boltTxn) NumUndoPoints() (int, error) {
	opsList, err := t.Operations()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, op := range opsList {
		if op.Kind == ops.KindUndoPoint {
			n++
		}
	}
	return n, nil
}

func (t *boltTxn) Commit() error { return t.tx.Commit() }

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func indexKey(index int) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(index))
	return key
}

// clearBucket deletes and recreates a bucket, the simplest way bbolt
// offers to empty one in a single writable transaction.
func clearBucket(tx *bolt.Tx, name []byte) error {
	if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	_, err := tx.CreateBucket(name)
	return err
}

// sortedIndices returns m's keys in ascending order. Nothing in this
// package calls it at present.
func sortedIndices(m map[int]types.Uuid) []int {
	idx := make([]int, 0, len(m))
	for k := range m {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}
