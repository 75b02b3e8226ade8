package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/liko-dev/liko/internal/accounts"
)

func newAccountsCommand() *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:           "accounts",
		Short:         "Manage a session's guest account roster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	importCmd := &cobra.Command{
		Use:           "import [session-id] [file]",
		Short:         "Replace the roster from a JSON or uid/password text file",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          importAccounts,
	}

	listCmd := &cobra.Command{
		Use:           "list [session-id]",
		Short:         "List the roster",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listAccounts,
	}

	exportCmd := &cobra.Command{
		Use:           "export [session-id] [directory]",
		Aliases:       []string{"convert"},
		Short:         "Write the roster as JSON files of at most 100 accounts each",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          exportAccounts,
	}

	accountsCmd.AddCommand(importCmd, listCmd, exportCmd)
	return accountsCmd
}

func importAccounts(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	raw, err := os.ReadFile(args[1])
	if err != nil {
		return formatter.Error("Failed to read roster file", err)
	}

	count, err := c.ReplaceAccounts(cmd.Context(), args[0], raw)
	if err != nil {
		return formatter.Error("Failed to import accounts", err)
	}
	return formatter.Success(fmt.Sprintf("Imported %d accounts", count),
		map[string]interface{}{"count": count})
}

func listAccounts(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	roster, err := c.Accounts(cmd.Context(), args[0])
	if err != nil {
		return formatter.Error("Failed to list accounts", err)
	}

	if formatter.jsonMode {
		return formatter.Print(map[string]interface{}{"accounts": roster, "count": len(roster)})
	}

	for _, account := range roster {
		fmt.Println(account.UID)
	}
	fmt.Printf("%d accounts\n", len(roster))
	return nil
}

// exportAccounts splits the roster into files of at most 100 accounts, the
// chunk size the JWT generation API accepts per upload.
func exportAccounts(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	roster, err := c.Accounts(cmd.Context(), args[0])
	if err != nil {
		return formatter.Error("Failed to load accounts", err)
	}
	if len(roster) == 0 {
		return formatter.Error("No accounts to export", nil)
	}

	dir := args[1]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return formatter.Error("Failed to create output directory", err)
	}

	chunks := accounts.Chunk(roster, accounts.DefaultChunkSize)
	written := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		data, err := accounts.MarshalChunk(chunk)
		if err != nil {
			return formatter.Error("Failed to encode accounts", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("accounts_%03d.json", i+1))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return formatter.Error("Failed to write chunk file", err)
		}
		written = append(written, path)
	}

	return formatter.Success(
		fmt.Sprintf("Exported %d accounts into %d files", len(roster), len(written)),
		map[string]interface{}{"files": written, "count": len(roster)})
}
