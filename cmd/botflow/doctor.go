package main

import (
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	"botflow/internal/config"
	"botflow/internal/flow"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your botflow installation",
		Long: `Verifies that botflow's configuration, database, dialogue graph, and
strings catalog are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("botflow doctor v%s\n\n", version)

			passed := 0
			failed := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'botflow init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", passed, failed+1)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// Database opens and answers a ping.
			db, err := sql.Open("sqlite", cfg.Storage.DBPath)
			if err == nil {
				err = db.Ping()
				db.Close()
			}
			if err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Storage.DBPath)
				passed++
			}

			// Dialogue graph parses.
			if cfg.Flow.Path == "" {
				printFail("Dialogue graph", "flow.path not set")
				failed++
			} else if data, err := os.ReadFile(cfg.Flow.Path); err != nil {
				printFail("Dialogue graph", err.Error())
				failed++
			} else if g, err := flow.ParseExport(data); err != nil {
				printFail("Dialogue graph", err.Error())
				failed++
			} else if g.First() == nil {
				printFail("Dialogue graph", "no first message marked")
				failed++
			} else {
				printPass("Dialogue graph", fmt.Sprintf("%d messages", len(g.Messages())))
				passed++
			}

			if cfg.Strings.Path == "" {
				printFail("Strings catalog", "strings.path not set")
				failed++
			} else if _, err := os.Stat(cfg.Strings.Path); err != nil {
				printFail("Strings catalog", err.Error())
				failed++
			} else {
				printPass("Strings catalog", cfg.Strings.Path)
				passed++
			}

			// Listen address is free.
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			ln, err := net.DialTimeout("tcp", addr, time.Second)
			if err == nil {
				ln.Close()
				printFail("Listen address", fmt.Sprintf("%s already in use", addr))
				failed++
			} else {
				printPass("Listen address", addr)
				passed++
			}

			fmt.Printf("\n%d passed, %d failed\n", passed, failed)
			return nil
		},
	}
}

func printPass(name, detail string) {
	fmt.Printf("  ok    %-18s %s\n", name, detail)
}

func printFail(name, detail string) {
	fmt.Printf("  FAIL  %-18s %s\n", name, detail)
}
