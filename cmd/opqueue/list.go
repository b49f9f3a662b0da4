package main

import (
	"encoding/json"
	"fmt"

	"github.com/fieldsync/opqueue/pkg/engine"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Query cached entities of a given type",
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("entity-type")
		filterJSON, _ := cmd.Flags().GetString("filter")
		limit, _ := cmd.Flags().GetInt("limit")

		if entityType == "" {
			return fmt.Errorf("--entity-type is required")
		}

		var filter map[string]any
		if filterJSON != "" {
			if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
				return fmt.Errorf("parse --filter: %w", err)
			}
		}

		e, store, err := openStoreAndEngine(cmd, noopTransport{}, engine.Config{})
		if err != nil {
			return err
		}
		defer store.Close()

		entities, err := e.QueryEntities(entityType, filter, limit)
		if err != nil {
			return fmt.Errorf("query entities: %w", err)
		}
		return printJSON(entities)
	},
}

func init() {
	listCmd.Flags().String("entity-type", "", "Entity type to list")
	listCmd.Flags().String("filter", "", "JSON object of equality filters")
	listCmd.Flags().Int("limit", 100, "Maximum entities to return")
}
