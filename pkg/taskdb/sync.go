package taskdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/taskchampion/tc/pkg/cryptor"
	"github.com/taskchampion/tc/pkg/metrics"
	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/snapshot"
	"github.com/taskchampion/tc/pkg/storage"
	"github.com/taskchampion/tc/pkg/syncclient"
	"github.com/taskchampion/tc/pkg/tcerr"
	"github.com/taskchampion/tc/pkg/tclog"
	"github.com/taskchampion/tc/pkg/types"
)

// maxPushAttempts bounds how many times Sync retries a push after
// losing an AddVersion race, so a persistently contended client id
// fails loudly instead of retrying forever.
const maxPushAttempts = 5

// Sync brings the replica up to date with server: it pulls every
// history segment appended since the replica's base version, rebasing
// the replica's own pending operations past each one, then pushes the
// replica's pending operations (if any) as a new segment. After a push
// it uploads a snapshot once the server's urgency hint reaches low, or
// only once it reaches high when avoidSnapshots is set.
func (db *TaskDb) Sync(ctx context.Context, server syncclient.Server, c *cryptor.Cryptor, clientID types.Uuid, avoidSnapshots bool) error {
	log := tclog.WithClientID(clientID.String())
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() {
		timer.ObserveDuration(metrics.SyncDuration)
		metrics.SyncCyclesTotal.WithLabelValues(outcome).Inc()
	}()

	if err := db.pull(ctx, server, c, clientID); err != nil {
		outcome = "pull_error"
		log.Error().Err(err).Msg("sync pull failed")
		return err
	}

	urgency, err := db.push(ctx, server, c, clientID)
	if err != nil {
		outcome = "push_error"
		log.Error().Err(err).Msg("sync push failed")
		return err
	}

	threshold := syncclient.SnapshotLow
	if avoidSnapshots {
		threshold = syncclient.SnapshotHigh
	}
	if urgency >= threshold {
		if err := db.sendSnapshot(ctx, server, c, clientID); err != nil {
			log.Warn().Err(err).Msg("sending snapshot failed; continuing")
		}
	}

	log.Debug().Dur("elapsed", timer.Duration()).Msg("sync complete")
	return nil
}

// pull fetches every history segment newer than the replica's base
// version, applying each one and rebasing the pending local operation
// log past it so those operations remain valid to push afterward.
func (db *TaskDb) pull(ctx context.Context, server syncclient.Server, c *cryptor.Cryptor, clientID types.Uuid) error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.New(tcerr.Storage, "sync_pull", err)
	}

	base, err := txn.BaseVersion()
	if err != nil {
		return tcerr.New(tcerr.Storage, "sync_pull", err)
	}
	localOps, err := txn.Operations()
	if err != nil {
		return tcerr.New(tcerr.Storage, "sync_pull", err)
	}

	for {
		child, err := server.GetChildVersion(ctx, clientID, base)
		if errors.Is(err, syncclient.ErrGone) {
			if base, localOps, err = db.applySnapshotCatchup(txn, server, c, clientID, localOps); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return tcerr.New(tcerr.Network, "sync_pull", err)
		}
		if child.Kind == syncclient.ChildNotFound {
			break
		}

		plaintext, err := c.Unseal(child.VersionID, child.HistorySegment)
		if err != nil {
			return tcerr.New(tcerr.Crypto, "sync_pull", err)
		}
		var serverOps []ops.SyncOp
		if err := json.Unmarshal(plaintext, &serverOps); err != nil {
			return tcerr.New(tcerr.Network, "sync_pull", fmt.Errorf("decoding history segment: %w", err))
		}

		for _, serverOp := range serverOps {
			var absorbed bool
			serverOp, localOps, absorbed = rebase(serverOp, localOps)
			if !absorbed {
				if err := applyToTxn(txn, serverOp); err != nil && !errors.Is(err, tcerr.ErrAlreadyExists) && !errors.Is(err, tcerr.ErrDoesNotExist) {
					return err
				}
			}
		}

		base = child.VersionID
		if err := txn.SetBaseVersion(base); err != nil {
			return tcerr.New(tcerr.Storage, "sync_pull", err)
		}
		metrics.SyncPulledVersionsTotal.Inc()
	}

	if err := txn.SetOperations(localOps); err != nil {
		return tcerr.New(tcerr.Storage, "sync_pull", err)
	}
	return wrapStorageErr(txn.Commit())
}

// rebase transforms serverOp past the pending local operation queue,
// returning the (possibly absorbed) server op and the queue with any
// operations it overrode dropped. Our Transform never rewrites an op's
// fields — it only ever keeps one side unchanged or drops it — so
// rebasing a ReplicaOp only ever means keeping or dropping it.
func rebase(serverOp ops.SyncOp, localOps []ops.ReplicaOp) (ops.SyncOp, []ops.ReplicaOp, bool) {
	absorbed := false
	out := make([]ops.ReplicaOp, 0, len(localOps))

	for _, lop := range localOps {
		localSync, hasSync := lop.ToSyncOp()
		if !hasSync {
			out = append(out, lop)
			continue
		}
		if absorbed {
			out = append(out, lop)
			continue
		}

		ts, tl := ops.Transform(serverOp, localSync)
		if ts != nil {
			serverOp = *ts
		} else {
			absorbed = true
		}
		if tl != nil {
			out = append(out, lop)
		}
	}

	return serverOp, out, absorbed
}

// applySnapshotCatchup is invoked when GetChildVersion reports the
// replica's base version has been garbage collected: it fetches the
// server's latest snapshot, replaces the local task map wholesale, and
// returns the snapshot's version id as the new pull base. This is only
// safe when the replica has no pending local operations of its own —
// wholesale-replacing the task map out from under operations still
// waiting to be pushed would silently lose or corrupt them once they're
// later replayed against post-snapshot state — so catch-up refuses to
// run at all while any are outstanding.
func (db *TaskDb) applySnapshotCatchup(txn storage.Txn, server syncclient.Server, c *cryptor.Cryptor, clientID types.Uuid, localOps []ops.ReplicaOp) (types.Uuid, []ops.ReplicaOp, error) {
	if len(localOps) > 0 {
		return uuid.Nil, nil, tcerr.New(tcerr.Conflict, "sync_pull", errors.New("cannot catch up from a snapshot while local operations are pending; push or undo them first"))
	}

	versionID, sealed, ok, err := server.GetSnapshot(context.Background(), clientID)
	if err != nil {
		return uuid.Nil, nil, tcerr.New(tcerr.Network, "sync_pull", err)
	}
	if !ok {
		return uuid.Nil, nil, tcerr.New(tcerr.Gone, "sync_pull", errors.New("server has no snapshot to catch up from"))
	}

	plaintext, err := c.Unseal(versionID, sealed)
	if err != nil {
		return uuid.Nil, nil, tcerr.New(tcerr.Crypto, "sync_pull", err)
	}
	tasks, err := snapshot.Decode(plaintext)
	if err != nil {
		return uuid.Nil, nil, tcerr.New(tcerr.Network, "sync_pull", err)
	}

	existing, err := txn.AllTaskUUIDs()
	if err != nil {
		return uuid.Nil, nil, tcerr.New(tcerr.Storage, "sync_pull", err)
	}
	for _, id := range existing {
		if err := txn.DeleteTask(id); err != nil {
			return uuid.Nil, nil, tcerr.New(tcerr.Storage, "sync_pull", err)
		}
	}
	for id, task := range tasks {
		if err := txn.CreateTask(id, task); err != nil {
			return uuid.Nil, nil, tcerr.New(tcerr.Storage, "sync_pull", err)
		}
	}

	if err := txn.SetBaseVersion(versionID); err != nil {
		return uuid.Nil, nil, tcerr.New(tcerr.Storage, "sync_pull", err)
	}
	metrics.SyncSnapshotsTotal.WithLabelValues("received").Inc()
	return versionID, localOps, nil
}

// push uploads the replica's pending operations as one new history
// segment, retrying against a fresh pull if it loses an AddVersion
// race.
func (db *TaskDb) push(ctx context.Context, server syncclient.Server, c *cryptor.Cryptor, clientID types.Uuid) (syncclient.SnapshotUrgency, error) {
	for attempt := 0; attempt < maxPushAttempts; attempt++ {
		txn, err := db.storage.Txn()
		if err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Storage, "sync_push", err)
		}

		localOps, err := txn.Operations()
		if err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Storage, "sync_push", err)
		}

		var syncOps []ops.SyncOp
		for _, op := range localOps {
			if so, ok := op.ToSyncOp(); ok {
				syncOps = append(syncOps, so)
			}
		}
		if len(syncOps) == 0 {
			return syncclient.SnapshotNone, wrapStorageErr(txn.Commit())
		}

		base, err := txn.BaseVersion()
		if err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Storage, "sync_push", err)
		}
		_ = txn.Commit() // read-only so far; release before the network round trip

		plaintext, err := json.Marshal(syncOps)
		if err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Storage, "sync_push", fmt.Errorf("encoding history segment: %w", err))
		}

		versionID := uuid.New()
		sealed, err := c.Seal(versionID, plaintext)
		if err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Crypto, "sync_push", err)
		}

		urgency, err := server.AddVersion(ctx, clientID, base, versionID, sealed)
		var conflict *syncclient.ConflictError
		if errors.As(err, &conflict) {
			metrics.SyncPushConflictsTotal.Inc()
			if err := db.pull(ctx, server, c, clientID); err != nil {
				return syncclient.SnapshotNone, err
			}
			continue
		}
		if err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Network, "sync_push", err)
		}

		txn2, err := db.storage.Txn()
		if err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Storage, "sync_push", err)
		}
		if err := txn2.SetBaseVersion(versionID); err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Storage, "sync_push", err)
		}
		if err := txn2.SetOperations(nil); err != nil {
			return syncclient.SnapshotNone, tcerr.New(tcerr.Storage, "sync_push", err)
		}
		return urgency, wrapStorageErr(txn2.Commit())
	}

	return syncclient.SnapshotNone, tcerr.New(tcerr.Conflict, "sync_push", fmt.Errorf("gave up after %d push attempts", maxPushAttempts))
}

// sendSnapshot builds and uploads a snapshot of the replica's current
// task map at its current base version.
func (db *TaskDb) sendSnapshot(ctx context.Context, server syncclient.Server, c *cryptor.Cryptor, clientID types.Uuid) error {
	txn, err := db.storage.Txn()
	if err != nil {
		return tcerr.New(tcerr.Storage, "sync_snapshot", err)
	}
	tasks, err := txn.AllTasks()
	if err != nil {
		return tcerr.New(tcerr.Storage, "sync_snapshot", err)
	}
	base, err := txn.BaseVersion()
	if err != nil {
		return tcerr.New(tcerr.Storage, "sync_snapshot", err)
	}
	if err := txn.Commit(); err != nil {
		return tcerr.New(tcerr.Storage, "sync_snapshot", err)
	}

	plaintext, err := snapshot.Encode(tasks)
	if err != nil {
		return tcerr.New(tcerr.Storage, "sync_snapshot", err)
	}
	sealed, err := c.Seal(base, plaintext)
	if err != nil {
		return tcerr.New(tcerr.Crypto, "sync_snapshot", err)
	}

	if err := server.AddSnapshot(ctx, clientID, base, sealed); err != nil {
		return tcerr.New(tcerr.Network, "sync_snapshot", err)
	}
	metrics.SyncSnapshotsTotal.WithLabelValues("sent").Inc()
	return nil
}
