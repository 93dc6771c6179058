package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskchampion/tc/pkg/cryptor"
	"github.com/taskchampion/tc/pkg/syncclient"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the configured server",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	db, cfg, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.ServerURL == "" {
		return fmt.Errorf("config has no server_url; nothing to sync with")
	}

	c, err := cryptor.New([]byte(cfg.EncryptionSecret), cfg.ClientID)
	if err != nil {
		return fmt.Errorf("deriving encryption key: %w", err)
	}

	server := syncclient.NewRemoteServer(cfg.ServerURL)
	if err := db.Sync(context.Background(), server, c, cfg.ClientID, cfg.AvoidSnapshots); err != nil {
		return err
	}

	if err := db.RebuildWorkingSet(); err != nil {
		return err
	}

	fmt.Println("Sync complete.")
	return nil
}
