// Package syncclient is a replica's view of a sync server: an
// interface two implementations satisfy — LocalServer, an in-process
// wrapper around pkg/syncserver for same-machine testing and
// single-user setups, and RemoteServer, an HTTP client for the wire
// protocol a real sync server exposes.
package syncclient

import (
	"context"

	"github.com/taskchampion/tc/pkg/syncproto"
	"github.com/taskchampion/tc/pkg/types"
)

// SnapshotUrgency is the server's hint, returned alongside a
// successful AddVersion, about how urgently the client should push a
// fresh snapshot. It is the client-facing name for syncproto's type,
// shared with pkg/syncserver so the two sides agree on the wire.
type SnapshotUrgency = syncproto.SnapshotUrgency

const (
	SnapshotNone = syncproto.SnapshotNone
	SnapshotLow  = syncproto.SnapshotLow
	SnapshotHigh = syncproto.SnapshotHigh
)

// ConflictError is returned by AddVersion when parentVersionID is not
// the current head of the client's version chain. Expected carries the
// id the server actually expects, so the caller can pull and retry.
type ConflictError = syncproto.ConflictError

// ErrGone is returned by GetChildVersion when the requested version has
// been garbage collected — the caller must fall back to a snapshot.
var ErrGone = syncproto.ErrGone

// ChildVersionKind discriminates a GetChildVersion response.
type ChildVersionKind = syncproto.ChildVersionKind

const (
	// ChildNotFound means parentVersionID is the current head: there
	// is nothing newer to pull.
	ChildNotFound = syncproto.ChildNotFound
	// ChildFound means a child version was returned.
	ChildFound = syncproto.ChildFound
)

// ChildVersion is the successful result of GetChildVersion.
type ChildVersion = syncproto.ChildVersion

// Server is a replica's connection to a sync server, whether in-process
// or over HTTP.
type Server interface {
	// AddVersion appends a new history segment as a child of
	// parentVersionID. On success it returns the assigned version id
	// (equal to versionID) and a snapshot urgency hint. If
	// parentVersionID is stale, it returns a *ConflictError.
	AddVersion(ctx context.Context, clientID, parentVersionID, versionID types.Uuid, historySegment []byte) (SnapshotUrgency, error)

	// GetChildVersion fetches the version chained after
	// parentVersionID, if any. It returns ErrGone if parentVersionID
	// predates the server's oldest retained version.
	GetChildVersion(ctx context.Context, clientID, parentVersionID types.Uuid) (ChildVersion, error)

	// AddSnapshot uploads a full-database snapshot taken at versionID.
	AddSnapshot(ctx context.Context, clientID, versionID types.Uuid, snapshot []byte) error

	// GetSnapshot fetches the most recent snapshot, if the server has
	// one.
	GetSnapshot(ctx context.Context, clientID types.Uuid) (versionID types.Uuid, snapshot []byte, ok bool, err error)
}
