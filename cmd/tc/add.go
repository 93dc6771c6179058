package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskchampion/tc/pkg/ops"
	"github.com/taskchampion/tc/pkg/types"
)

var addCmd = &cobra.Command{
	Use:   "add <description...>",
	Short: "Add a new pending task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	db, _, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	id := uuid.New()
	now := time.Now().Unix()
	nowStr := strconv.FormatInt(now, 10)
	description := strings.Join(args, " ")

	if err := db.AddUndoPoint(); err != nil {
		return err
	}
	if err := db.Apply(ops.ReplicaCreate(id)); err != nil {
		return err
	}
	for _, prop := range []struct {
		name  string
		value string
	}{
		{types.PropDescription, description},
		{types.PropStatus, string(types.StatusPending)},
		{"entry", nowStr},
	} {
		value := prop.value
		if err := db.Apply(ops.ReplicaUpdate(id, prop.name, nil, &value, now)); err != nil {
			return err
		}
	}

	index, err := db.AddToWorkingSet(id)
	if err != nil {
		return err
	}

	fmt.Printf("Created task %d.\n", index)
	return nil
}
