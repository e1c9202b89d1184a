// Command shelf manages the local game-library store: applying
// synchronization batches, deletion specs, and running the spool daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfapp/shelf/internal/config"
	"github.com/shelfapp/shelf/internal/schema"
	"github.com/shelfapp/shelf/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "shelf",
	Short: "Local persistence and synchronization layer for the shelf app",
	Long: `shelf reconciles batches of domain entities (games, users, collections,
downloads) against a local SQLite store, writing only what changed and
notifying observers of committed changes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + SHELF_* env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// openStore opens the database from config with the default registry.
func openStore(cfg *config.Config) (*store.Store, *schema.Registry, error) {
	reg, err := schema.Default()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load schema registry: %w", err)
	}
	st, err := store.Open(cfg.DBPath, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, reg, nil
}
