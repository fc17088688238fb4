package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avesa-io/avesa/internal/model"
	"github.com/avesa-io/avesa/internal/statestore"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	cmd.AddCommand(newTenantAddCmd())
	return cmd
}

func newTenantAddCmd() *cobra.Command {
	var id, name string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return exitWith(exitUsageError, fmt.Errorf("--id is required"))
			}

			store, err := statestore.Open(cmd.Context(), cfg.StateStoreEndpoint)
			if err != nil {
				return exitWith(exitStoreUnreachable, fmt.Errorf("connecting to state store: %w", err))
			}
			defer store.Close()

			tenant := model.Tenant{TenantID: id, CompanyName: name, CreatedAt: time.Now().UTC()}
			if err := store.CreateTenant(cmd.Context(), tenant); err != nil {
				return fmt.Errorf("creating tenant: %w", err)
			}

			fmt.Printf("tenant %q created\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "tenant ID")
	cmd.Flags().StringVar(&name, "name", "", "tenant display name")
	return cmd
}
