// Package config loads the YAML configuration shared by cmd/tc and
// cmd/tc-sync-server.
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/taskchampion/tc/pkg/types"
)

// Config is the on-disk configuration for a replica (cmd/tc) or a sync
// server (cmd/tc-sync-server). Both binaries read the same file and
// ignore the fields they don't need.
type Config struct {
	// DataDir is where a replica stores its task database
	// (taskchampion.db) or a server stores its version-chain database
	// (syncserver.db).
	DataDir string `yaml:"data_dir"`

	// ServerURL is the base URL of a remote sync server, e.g.
	// "https://sync.example.com". Empty disables sync.
	ServerURL string `yaml:"server_url"`

	// ClientID identifies this replica's account to the sync server;
	// every replica sharing a task history uses the same one.
	ClientID types.Uuid `yaml:"client_id"`

	// EncryptionSecret derives the key that seals every history
	// segment and snapshot this replica sends. It never leaves the
	// client — the server only ever stores ciphertext.
	EncryptionSecret string `yaml:"encryption_secret"`

	// AvoidSnapshots holds client-initiated snapshot uploads back until
	// the server signals high urgency rather than low, e.g. on a
	// metered connection.
	AvoidSnapshots bool `yaml:"avoid_snapshots"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config %s: data_dir is required", path)
	}
	if cfg.ClientID == uuid.Nil && cfg.ServerURL != "" {
		return nil, fmt.Errorf("config %s: client_id is required when server_url is set", path)
	}

	return &cfg, nil
}
