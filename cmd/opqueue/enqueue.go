package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fieldsync/opqueue/pkg/engine"
	"github.com/fieldsync/opqueue/pkg/types"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Submit a new operation to the local queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("entity-type")
		entityID, _ := cmd.Flags().GetString("entity-id")
		kind, _ := cmd.Flags().GetString("kind")
		payloadJSON, _ := cmd.Flags().GetString("payload")
		userID, _ := cmd.Flags().GetString("user-id")
		deviceID, _ := cmd.Flags().GetString("device-id")
		priority, _ := cmd.Flags().GetString("priority")
		dependsOn, _ := cmd.Flags().GetString("depends-on")
		conflictStrategy, _ := cmd.Flags().GetString("conflict-strategy")

		if entityType == "" || kind == "" {
			return fmt.Errorf("--entity-type and --kind are required")
		}

		var payload map[string]any
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("parse --payload: %w", err)
			}
		}

		var deps []string
		if dependsOn != "" {
			deps = strings.Split(dependsOn, ",")
		}

		e, store, err := openStoreAndEngine(cmd, noopTransport{}, engine.Config{})
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := e.Enqueue(engine.EnqueueRequest{
			EntityType:       entityType,
			EntityID:         entityID,
			Kind:             types.OperationKind(kind),
			Payload:          payload,
			UserID:           userID,
			DeviceID:         deviceID,
			Priority:         types.Priority(priority),
			DependsOn:        deps,
			ConflictStrategy: types.ConflictStrategy(conflictStrategy),
		})
		if err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}

		fmt.Printf("operation_id: %s\n", result.OperationID)
		if !result.Accepted() {
			fmt.Println("validation errors:")
			for _, e := range result.ValidationErrors {
				fmt.Printf("  - %s\n", e)
			}
		}
		return nil
	},
}

func init() {
	enqueueCmd.Flags().String("entity-type", "", "Entity type (e.g. invoice)")
	enqueueCmd.Flags().String("entity-id", "", "Entity id; empty for create operations that assign their own id")
	enqueueCmd.Flags().String("kind", "", "Operation kind: create, update, delete, approve, reject, submit, cancel")
	enqueueCmd.Flags().String("payload", "", "JSON-encoded payload")
	enqueueCmd.Flags().String("user-id", "", "Acting user id")
	enqueueCmd.Flags().String("device-id", "", "Originating device id")
	enqueueCmd.Flags().String("priority", string(types.PriorityNormal), "Priority: critical, high, normal, low")
	enqueueCmd.Flags().String("depends-on", "", "Comma-separated operation ids this operation depends on")
	enqueueCmd.Flags().String("conflict-strategy", "", "Conflict strategy: client-wins, server-wins, last-writer-wins, merge, manual")
}
