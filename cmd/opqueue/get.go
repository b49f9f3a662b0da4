package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldsync/opqueue/pkg/engine"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Look up an operation or a cached entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation-id")
		entityType, _ := cmd.Flags().GetString("entity-type")
		entityID, _ := cmd.Flags().GetString("entity-id")

		e, store, err := openStoreAndEngine(cmd, noopTransport{}, engine.Config{})
		if err != nil {
			return err
		}
		defer store.Close()

		switch {
		case opID != "":
			op, err := e.GetOperation(opID)
			if errors.Is(err, engine.ErrNotFound) {
				return fmt.Errorf("operation %s not found", opID)
			}
			if err != nil {
				return err
			}
			return printJSON(op)
		case entityType != "" && entityID != "":
			entity, err := e.GetEntity(entityType, entityID)
			if errors.Is(err, engine.ErrNotFound) {
				return fmt.Errorf("entity %s/%s not found", entityType, entityID)
			}
			if err != nil {
				return err
			}
			return printJSON(entity)
		default:
			return fmt.Errorf("specify either --operation-id or both --entity-type and --entity-id")
		}
	},
}

func init() {
	getCmd.Flags().String("operation-id", "", "Operation id to fetch")
	getCmd.Flags().String("entity-type", "", "Entity type to fetch from the cache")
	getCmd.Flags().String("entity-id", "", "Entity id to fetch from the cache")
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
