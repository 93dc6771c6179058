package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the working set",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	db, _, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ws, err := db.WorkingSet()
	if err != nil {
		return err
	}

	indices := make([]int, 0, len(ws))
	for idx := range ws {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tStatus\tDescription")

	for _, idx := range indices {
		task, ok, err := db.GetTask(ws[idx])
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", idx, task["status"], task["description"])
	}
	return nil
}
