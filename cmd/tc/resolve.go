package main

import (
	"fmt"
	"strconv"

	"github.com/taskchampion/tc/pkg/taskdb"
	"github.com/taskchampion/tc/pkg/types"
)

// resolveShortID maps a working-set short id (as typed by the user) to
// the task uuid it currently refers to.
func resolveShortID(db *taskdb.TaskDb, shortID string) (types.Uuid, error) {
	index, err := strconv.Atoi(shortID)
	if err != nil {
		return types.Uuid{}, fmt.Errorf("invalid task id %q", shortID)
	}

	ws, err := db.WorkingSet()
	if err != nil {
		return types.Uuid{}, err
	}
	id, ok := ws[index]
	if !ok {
		return types.Uuid{}, fmt.Errorf("no task with id %d", index)
	}
	return id, nil
}
