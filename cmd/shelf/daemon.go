package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shelfapp/shelf/internal/daemon"
	"github.com/shelfapp/shelf/internal/dashboard"
	"github.com/shelfapp/shelf/internal/engine"
	"github.com/shelfapp/shelf/internal/notify"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the spool daemon (and optional dashboard)",
	Long: `Watch the spool directory for payload files and apply them to the
local store as they arrive:

  *.batch.json   synchronization batches
  *.delete.json  deletion specs

Applied payloads are removed; failed ones are renamed *.failed and left
in place. With dashboard_port set, a WebSocket dashboard streams commit
events to connected clients.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		if cfg.LogFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			})
		}

		st, reg, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		hub := notify.NewHub()
		defer hub.Close()

		if cfg.DashboardPort > 0 {
			srv := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.DashboardPort,
				Logger: logger,
			})
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer srv.Stop()
			unsubscribe := hub.Subscribe(srv)
			defer unsubscribe()
		}

		eng := engine.New(st, reg, hub, logger)

		d, err := daemon.New(eng, reg, cfg.SpoolDir, &daemon.Config{
			DebounceInterval: cfg.Debounce,
			Logger:           logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
