// Package syncproto defines the vocabulary shared by a sync client
// (pkg/syncclient) and a sync server (pkg/syncserver) — the urgency
// hint, conflict signal, and version-lookup result that flow between
// them regardless of transport.
package syncproto

import (
	"errors"
	"fmt"

	"github.com/taskchampion/tc/pkg/types"
)

// SnapshotUrgency is the server's hint, returned alongside a
// successful AddVersion, about how urgently the client should push a
// fresh snapshot.
type SnapshotUrgency int

const (
	SnapshotNone SnapshotUrgency = iota
	SnapshotLow
	SnapshotHigh
)

func (u SnapshotUrgency) String() string {
	switch u {
	case SnapshotLow:
		return "low"
	case SnapshotHigh:
		return "high"
	default:
		return "none"
	}
}

// ConflictError is returned by AddVersion when the given parent
// version is not the current head of the client's version chain.
// Expected carries the id the server actually expects.
type ConflictError struct {
	Expected types.Uuid
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("syncproto: expected parent version %s", e.Expected)
}

// ErrGone is returned by GetChildVersion when the requested version
// has been garbage collected — the caller must fall back to a
// snapshot.
var ErrGone = errors.New("syncproto: version history no longer available, fetch a snapshot")

// ChildVersionKind discriminates a GetChildVersion response.
type ChildVersionKind int

const (
	// ChildNotFound means the requested parent is the current head:
	// there is nothing newer to pull.
	ChildNotFound ChildVersionKind = iota
	// ChildFound means a child version was returned.
	ChildFound
)

// ChildVersion is the successful result of GetChildVersion.
type ChildVersion struct {
	Kind           ChildVersionKind
	VersionID      types.Uuid
	Parent         types.Uuid
	HistorySegment []byte // encrypted
}
