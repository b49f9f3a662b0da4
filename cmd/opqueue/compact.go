package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldsync/opqueue/pkg/reconciler"
	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run a single compaction cycle against the store",
	Long: `compact removes cache entries past their expiry and prunes
operations that are synced or terminal and older than the retention
horizon. Use --dry-run to see current queue/cache sizes without
mutating anything, and --backup to copy the database file first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		retention, _ := cmd.Flags().GetDuration("retention")

		dbPath := filepath.Join(dataDir, "opqueue.db")
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database not found at %s", dbPath)
		}

		if dryRun {
			store, err := storage.NewBoltStore(dataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			counts, err := store.CountOperationsByStatus()
			if err != nil {
				return err
			}
			cacheSize, err := store.CountCacheEntries()
			if err != nil {
				return err
			}
			fmt.Println("[dry run] no changes made")
			fmt.Printf("operations by status: %v\n", counts)
			fmt.Printf("cache entries: %d\n", cacheSize)
			fmt.Printf("retention horizon: %s (operations synced/terminal before now-%s would be pruned)\n", retention, retention)
			return nil
		}

		if backup {
			backupPath := dbPath + ".backup"
			fmt.Printf("creating backup: %s\n", backupPath)
			if err := copyFile(dbPath, backupPath); err != nil {
				return fmt.Errorf("create backup: %w", err)
			}
			fmt.Println("backup created")
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		compactor := reconciler.NewCompactor(store, time.Minute, retention)
		if err := compactor.RunOnce(); err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}
		fmt.Println("compaction complete")
		return nil
	},
}

func init() {
	compactCmd.Flags().Bool("dry-run", false, "Report current sizes without mutating the store")
	compactCmd.Flags().Bool("backup", true, "Copy the database file before compacting")
	compactCmd.Flags().Duration("retention", 30*24*time.Hour, "Age beyond which synced/terminal operations are pruned")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
