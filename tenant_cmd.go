package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/internal/tenant"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage federated cloud-drive tenants",
	}

	cmd.AddCommand(newTenantAddCmd())
	cmd.AddCommand(newTenantListCmd())
	cmd.AddCommand(newTenantRemoveCmd())
	cmd.AddCommand(newTenantOrderCmd())

	return cmd
}

var (
	flagTenantDisplayName string
	flagTenantBackendKind string
	flagTenantPlatform    string
	flagTenantClientID    string
	flagTenantSecret      string
	flagTenantRefresh     string
	flagTenantReadOnly    bool
)

func newTenantAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new tenant",
		RunE:  runTenantAdd,
	}

	cmd.Flags().StringVar(&flagTenantDisplayName, "display-name", "", "human-readable name")
	cmd.Flags().StringVar(&flagTenantBackendKind, "backend", "memdrive", "backend kind (memdrive|graphdrive)")
	cmd.Flags().StringVar(&flagTenantPlatform, "platform", "intl", "upstream platform (intl|cn)")
	cmd.Flags().StringVar(&flagTenantClientID, "client-id", "", "upstream OAuth client ID")
	cmd.Flags().StringVar(&flagTenantSecret, "client-secret", "", "upstream OAuth client secret")
	cmd.Flags().StringVar(&flagTenantRefresh, "refresh-token", "", "upstream OAuth refresh token")
	cmd.Flags().BoolVar(&flagTenantReadOnly, "read-only", false, "mark the tenant read-only")

	_ = cmd.MarkFlagRequired("display-name")

	return cmd
}

func runTenantAdd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	registry := tenant.New(cc.Store, cc.Logger)

	perm := store.PermissionReadWrite
	if flagTenantReadOnly {
		perm = store.PermissionReadOnly
	}

	t, err := registry.AddTenant(cmd.Context(), store.Tenant{
		DisplayName: flagTenantDisplayName,
		BackendKind: flagTenantBackendKind,
		Platform:    store.Platform(flagTenantPlatform),
		Permission:  perm,
		Active:      true,
		AppCredentials: store.AppCredentials{
			ClientID:     flagTenantClientID,
			ClientSecret: flagTenantSecret,
			RefreshToken: flagTenantRefresh,
		},
	})
	if err != nil {
		return fmt.Errorf("adding tenant: %w", err)
	}

	if flagJSON {
		return printJSON(t)
	}

	fmt.Printf("tenant added: %s (%s)\n", t.ID, t.DisplayName)

	return nil
}

func newTenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tenants",
		RunE:  runTenantList,
	}
}

func runTenantList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	registry := tenant.New(cc.Store, cc.Logger)

	tenants, err := registry.ListTenants(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}

	if flagJSON {
		return printJSON(tenants)
	}

	headers := []string{"ID", "NAME", "BACKEND", "QUOTA", "ACTIVE"}
	rows := make([][]string, 0, len(tenants))

	for _, t := range tenants {
		rows = append(rows, []string{
			t.ID, t.DisplayName, t.BackendKind,
			fmt.Sprintf("%s / %s", humanize.Bytes(uint64(t.UsedBytes)), humanize.Bytes(uint64(t.QuotaBytes))),
			fmt.Sprintf("%t", t.Active),
		})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func newTenantRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <tenant-id>",
		Short: "Remove a tenant",
		Args:  cobra.ExactArgs(1),
		RunE:  runTenantRemove,
	}
}

func runTenantRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	registry := tenant.New(cc.Store, cc.Logger)

	if err := registry.RemoveTenant(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("removing tenant: %w", err)
	}

	fmt.Printf("tenant removed: %s\n", args[0])

	return nil
}

func newTenantOrderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order <tenant-id> [tenant-id...]",
		Short: "Set the aggregated-root presentation order of tenants",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTenantOrder,
	}
}

func runTenantOrder(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	registry := tenant.New(cc.Store, cc.Logger)

	if err := registry.ReorderTenants(cmd.Context(), args); err != nil {
		return fmt.Errorf("reordering tenants: %w", err)
	}

	fmt.Printf("tenant order set: %s\n", strings.Join(args, ", "))

	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// printTable writes aligned columns to the given writer. Headers are bolded
// when w is a terminal; piped output (scripts, `| less`) stays plain.
func printTable(w *os.File, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		printRow(w, headers, widths, "\x1b[1m", "\x1b[0m")
	} else {
		printRow(w, headers, widths, "", "")
	}

	for _, row := range rows {
		printRow(w, row, widths, "", "")
	}
}

func printRow(w *os.File, cells []string, widths []int, prefix, suffix string) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, prefix+strings.Join(parts, "  ")+suffix)
}
