package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/disconnec/FeiSync/internal/store"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer the process-wide admin API key",
	}

	cmd.AddCommand(newAdminShowKeyCmd())

	return cmd
}

func newAdminShowKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-key",
		Short: "Print the admin API key, generating one if none exists yet",
		RunE:  runAdminShowKey,
	}
}

func runAdminShowKey(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	var key string

	err := cc.Store.Config().Write(func(c *store.RuntimeConfig) error {
		if c.AdminAPIKey == "" {
			c.AdminAPIKey = uuid.NewString()
		}

		key = c.AdminAPIKey

		return nil
	})
	if err != nil {
		return fmt.Errorf("reading/generating admin key: %w", err)
	}

	fmt.Println(key)

	return nil
}
