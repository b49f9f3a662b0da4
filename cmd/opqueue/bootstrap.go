package main

import (
	"fmt"

	"github.com/fieldsync/opqueue/pkg/engine"
	"github.com/fieldsync/opqueue/pkg/rules"
	"github.com/fieldsync/opqueue/pkg/schema"
	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/sync"
	"github.com/spf13/cobra"
)

// openStoreAndEngine opens the BoltDB store at --data-dir, registers any
// --schema-file/--rules-file definitions, and returns an Engine built over
// transport. The caller owns store.Close() and, if it called e.Start(),
// e.Shutdown().
func openStoreAndEngine(cmd *cobra.Command, transport sync.Transport, cfg engine.Config) (*engine.Engine, storage.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	e := engine.New(store, transport, cfg)

	schemaFile, _ := cmd.Flags().GetString("schema-file")
	if schemaFile != "" {
		schemas, err := schema.LoadFile(schemaFile)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("load schema file: %w", err)
		}
		for _, s := range schemas {
			if err := e.RegisterSchema(s); err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("register schema %s: %w", s.EntityType, err)
			}
		}
	}

	rulesFile, _ := cmd.Flags().GetString("rules-file")
	if rulesFile != "" {
		loaded, err := rules.LoadFile(rulesFile)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("load rules file: %w", err)
		}
		for _, r := range loaded {
			if err := e.RegisterRule(r); err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("register rule %s: %w", r.ID, err)
			}
		}
	}

	return e, store, nil
}
