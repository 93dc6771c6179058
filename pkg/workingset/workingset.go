// Package workingset projects the task store onto small, stable
// integers the CLI can use as short ids, independent of each task's
// full uuid.
package workingset

import (
	"sort"

	"github.com/taskchampion/tc/pkg/types"
)

// Set is a sparse, 1-indexed mapping from short id to task uuid.
// Index 0 is never assigned.
type Set map[int]types.Uuid

// ByUUID inverts the set for uuid -> index lookups.
func (s Set) ByUUID() map[types.Uuid]int {
	out := make(map[types.Uuid]int, len(s))
	for idx, id := range s {
		out[id] = idx
	}
	return out
}

// Largest returns the highest assigned index, or 0 if the set is empty.
func (s Set) Largest() int {
	largest := 0
	for idx := range s {
		if idx > largest {
			largest = idx
		}
	}
	return largest
}

// AddToEnd assigns id the smallest index one past the current largest,
// the behavior used right after a task is created: new tasks are
// appended rather than filling a gap left by a just-cleared task, so a
// freshly added task doesn't steal the short id a user just referenced.
func (s Set) AddToEnd(id types.Uuid) int {
	index := s.Largest() + 1
	s[index] = id
	return index
}

// Predicate reports whether a task qualifies for a slot in the working
// set. Rebuild takes one as a parameter so callers can reuse the same
// renumbering machinery for something other than the default
// pending/waiting filter.
type Predicate func(task types.TaskMap) bool

// DefaultPredicate is the predicate a replica's user-facing working set
// is rebuilt against: pending and waiting tasks are candidates for a
// short id, completed, deleted, and recurring template tasks are not.
func DefaultPredicate(task types.TaskMap) bool {
	switch types.Status(task[types.PropStatus]) {
	case types.StatusPending, types.StatusWaiting:
		return true
	default:
		return false
	}
}

// Rebuild recomputes the working set from scratch against predicate.
// If renumber is true, every qualifying task is assigned a fresh
// contiguous index 1..N in uuid order (a total order, so the result is
// deterministic), discarding existing's indices entirely. Otherwise
// tasks that still qualify keep their existing index, tasks that no
// longer qualify lose theirs, and newly-qualifying tasks are appended
// in uuid order after the highest surviving index.
func Rebuild(tasks map[types.Uuid]types.TaskMap, existing Set, predicate Predicate, renumber bool) Set {
	if renumber {
		return renumbered(tasks, predicate)
	}

	rebuilt := Set{}
	assigned := map[types.Uuid]bool{}

	indices := make([]int, 0, len(existing))
	for idx := range existing {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		id := existing[idx]
		task, ok := tasks[id]
		if !ok || !predicate(task) {
			continue
		}
		rebuilt[idx] = id
		assigned[id] = true
	}

	var fresh []types.Uuid
	for id, task := range tasks {
		if assigned[id] || !predicate(task) {
			continue
		}
		fresh = append(fresh, id)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].String() < fresh[j].String() })

	next := rebuilt.Largest() + 1
	for _, id := range fresh {
		rebuilt[next] = id
		next++
	}

	return rebuilt
}

// renumbered assigns every qualifying task a fresh index 1..N in uuid
// order, ignoring any previously assigned index.
func renumbered(tasks map[types.Uuid]types.TaskMap, predicate Predicate) Set {
	var ids []types.Uuid
	for id, task := range tasks {
		if predicate(task) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	rebuilt := Set{}
	for i, id := range ids {
		rebuilt[i+1] = id
	}
	return rebuilt
}
