package workingset

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/taskchampion/tc/pkg/types"
)

func pendingTask() types.TaskMap {
	return types.TaskMap{types.PropStatus: string(types.StatusPending)}
}

func TestAddToEnd(t *testing.T) {
	s := Set{}
	a, b := uuid.New(), uuid.New()

	idx1 := s.AddToEnd(a)
	idx2 := s.AddToEnd(b)

	assert.Equal(t, 1, idx1)
	assert.Equal(t, 2, idx2)
	assert.Equal(t, a, s[1])
	assert.Equal(t, b, s[2])
}

func TestByUUID(t *testing.T) {
	a := uuid.New()
	s := Set{3: a}
	assert.Equal(t, 3, s.ByUUID()[a])
}

func TestRebuild_KeepsExistingIndexForSurvivingTask(t *testing.T) {
	a := uuid.New()
	tasks := map[types.Uuid]types.TaskMap{a: pendingTask()}
	existing := Set{5: a}

	rebuilt := Rebuild(tasks, existing, DefaultPredicate, false)
	assert.Equal(t, a, rebuilt[5])
	assert.Len(t, rebuilt, 1)
}

func TestRebuild_DropsCompletedTask(t *testing.T) {
	a := uuid.New()
	tasks := map[types.Uuid]types.TaskMap{
		a: {types.PropStatus: string(types.StatusCompleted)},
	}
	existing := Set{1: a}

	rebuilt := Rebuild(tasks, existing, DefaultPredicate, false)
	assert.Empty(t, rebuilt)
}

func TestRebuild_DropsDeletedTaskReference(t *testing.T) {
	a := uuid.New()
	existing := Set{1: a}

	rebuilt := Rebuild(map[types.Uuid]types.TaskMap{}, existing, DefaultPredicate, false)
	assert.Empty(t, rebuilt)
}

func TestRebuild_AppendsNewTasksAfterSurvivors(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tasks := map[types.Uuid]types.TaskMap{
		a: pendingTask(),
		b: pendingTask(),
	}
	existing := Set{2: a}

	rebuilt := Rebuild(tasks, existing, DefaultPredicate, false)
	assert.Equal(t, a, rebuilt[2])
	assert.Equal(t, b, rebuilt[3])
}

func TestRebuild_IsDeterministicAcrossRuns(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	tasks := map[types.Uuid]types.TaskMap{a: pendingTask(), b: pendingTask(), c: pendingTask()}

	first := Rebuild(tasks, Set{}, DefaultPredicate, false)
	second := Rebuild(tasks, Set{}, DefaultPredicate, false)
	assert.Equal(t, first, second)
}

func TestRebuild_RenumberIgnoresExistingGapsAndCollapsesThem(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tasks := map[types.Uuid]types.TaskMap{
		a: pendingTask(),
		b: pendingTask(),
	}
	// existing has a large gap and an out-of-order index; renumber
	// should discard both and assign 1..N in uuid order.
	existing := Set{7: a, 40: b}

	rebuilt := Rebuild(tasks, existing, DefaultPredicate, true)
	assert.Len(t, rebuilt, 2)
	assert.ElementsMatch(t, []int{1, 2}, indices(rebuilt))
}

func TestRebuild_RenumberDropsTasksFailingPredicate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tasks := map[types.Uuid]types.TaskMap{
		a: pendingTask(),
		b: {types.PropStatus: string(types.StatusCompleted)},
	}
	existing := Set{1: a, 2: b}

	rebuilt := Rebuild(tasks, existing, DefaultPredicate, true)
	assert.Len(t, rebuilt, 1)
	assert.Equal(t, a, rebuilt[1])
}

func TestRebuild_CustomPredicate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	tasks := map[types.Uuid]types.TaskMap{
		a: {"tag_urgent": "1"},
		b: pendingTask(),
	}
	onlyTagged := func(task types.TaskMap) bool {
		_, ok := task["tag_urgent"]
		return ok
	}

	rebuilt := Rebuild(tasks, Set{}, onlyTagged, false)
	assert.Len(t, rebuilt, 1)
	assert.Equal(t, a, rebuilt[1])
}

func indices(s Set) []int {
	out := make([]int, 0, len(s))
	for idx := range s {
		out = append(out, idx)
	}
	return out
}
