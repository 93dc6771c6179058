package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskchampion/tc/pkg/ops"
)

var modifyCmd = &cobra.Command{
	Use:   "modify <id> <key>=<value>",
	Short: "Set a property on a task",
	Args:  cobra.ExactArgs(2),
	RunE:  runModify,
}

func runModify(cmd *cobra.Command, args []string) error {
	property, value, ok := strings.Cut(args[1], "=")
	if !ok {
		return fmt.Errorf("expected <key>=<value>, got %q", args[1])
	}

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
	var oldValue *string
	if old, had := task[property]; had {
		oldValue = &old
	}

	if err := db.AddUndoPoint(); err != nil {
		return err
	}
	if err := db.Apply(ops.ReplicaUpdate(id, property, oldValue, &value, now)); err != nil {
		return err
	}

	fmt.Printf("Modified task %s: %s = %s\n", args[0], property, value)
	return nil
}
