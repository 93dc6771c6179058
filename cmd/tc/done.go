package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/types"
)

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runDone,
}

func runDone(cmd *cobra.Command, args []string) error {
	db, _, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := resolveShortID(db, args[0])
	if err != nil {
		return err
	}

	task, ok, err := db.GetTask(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %s no longer exists", args[0])
	}

	now := time.Now().Unix()
	oldStatus := task[types.PropStatus]
	newStatus := string(types.StatusCompleted)

	if err := db.AddUndoPoint(); err != nil {
		return err
	}
	if err := db.Apply(ops.ReplicaUpdate(id, types.PropStatus, &oldStatus, &newStatus, now)); err != nil {
		return err
	}
	if err := db.RebuildWorkingSet(); err != nil {
		return err
	}

	fmt.Printf("Completed task %s.\n", args[0])
	return nil
}
