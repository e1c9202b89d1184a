package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfapp/shelf/internal/daemon"
	"github.com/shelfapp/shelf/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync <batch.json>",
	Short: "Apply a synchronization batch file to the store",
	Long: `Apply a single synchronization batch to the local store.

The file holds table -> id -> partial record, the same payload shape the
spool daemon consumes:

  {"games": {"g-17": {"title": "Spelunky", "min_price": 500}}}

Only records that actually changed are written. Unknown tables are
skipped and reported, not treated as errors.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, reg, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading batch file: %v\n", err)
			os.Exit(1)
		}

		batch, err := daemon.DecodeBatch(reg, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding batch: %v\n", err)
			os.Exit(1)
		}

		eng := engine.New(st, reg, nil, nil)
		res, err := eng.Apply(cmd.Context(), batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error applying batch: %v\n", err)
			os.Exit(1)
		}

		for _, tr := range res.Tables {
			fmt.Printf("%s: %s (processed=%d upserted=%d up-to-date=%d)\n",
				tr.Table, tr.Status, tr.Processed, tr.Upserted, tr.UpToDate)
		}
		if err := res.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <spec.json>",
	Short: "Apply a deletion spec file to the store",
	Long: `Remove entities from the local store.

The file holds table -> ids:

  {"downloads": ["d-3", "d-9"]}

Deleting ids that are not present is a no-op.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, reg, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading spec file: %v\n", err)
			os.Exit(1)
		}

		spec, err := daemon.DecodeDeletionSpec(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding spec: %v\n", err)
			os.Exit(1)
		}

		eng := engine.New(st, reg, nil, nil)
		res, err := eng.Delete(cmd.Context(), spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error applying deletions: %v\n", err)
			os.Exit(1)
		}

		for _, tr := range res.Tables {
			fmt.Printf("%s: %s (removed=%d)\n", tr.Table, tr.Status, tr.Deleted)
		}
		if err := res.Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(deleteCmd)
}
