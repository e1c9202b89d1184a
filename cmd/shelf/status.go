package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts for every registered table",
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

		fmt.Printf("Store: %s\n", st.Path())
		for _, name := range reg.Names() {
			count, err := st.Count(cmd.Context(), name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", name, err)
				os.Exit(1)
			}
			fmt.Printf("  %-18s %d\n", name, count)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
