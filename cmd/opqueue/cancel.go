package main

import (
	"errors"
	"fmt"

	"github.com/fieldsync/opqueue/pkg/engine"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a pending operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		opID, _ := cmd.Flags().GetString("operation-id")
		if opID == "" {
			return fmt.Errorf("--operation-id is required")
		}

		e, store, err := openStoreAndEngine(cmd, noopTransport{}, engine.Config{})
		if err != nil {
			return err
		}
		defer store.Close()

		err = e.CancelOperation(opID)
		switch {
		case errors.Is(err, engine.ErrNotFound):
			return fmt.Errorf("operation %s not found", opID)
		case errors.Is(err, engine.ErrIllegalState):
			return fmt.Errorf("operation %s is no longer cancellable", opID)
		case err != nil:
			return err
		}

		fmt.Printf("operation %s cancelled\n", opID)
		return nil
	},
}

func init() {
	cancelCmd.Flags().String("operation-id", "", "Operation id to cancel")
}
