package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the most recent batch of local changes",
	Args:  cobra.NoArgs,
	RunE:  runUndo,
}

func runUndo(cmd *cobra.Command, args []string) error {
	db, _, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	undone, err := db.Undo()
	if err != nil {
		return err
	}
	if !undone {
		fmt.Println("Nothing to undo.")
		return nil
	}

	if err := db.RebuildWorkingSet(); err != nil {
		return err
	}

	fmt.Println("Undo complete.")
	return nil
}
