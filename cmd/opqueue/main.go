package main

import (
	"fmt"
	"os"

	"github.com/fieldsync/opqueue/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "opqueue",
	Short: "Offline-first operation queue for disconnected ERP clients",
	Long: `opqueue is a durable, dependency-ordered operation queue for
mobile and edge clients that reconcile with a remote server once
connectivity returns.

It runs as a local daemon (serve) that accepts operations from embedding
applications, executes them against a local cache, and syncs with a
remote server; the remaining subcommands are operator tools for
inspecting and managing that queue directly against its on-disk store.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("opqueue version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory holding the BoltDB store")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("schema-file", "", "YAML file of entity schema definitions to register at startup")
	rootCmd.PersistentFlags().String("rules-file", "", "YAML file of business rule definitions to register at startup")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(compactCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
