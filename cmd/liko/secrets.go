package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"
)

func newSecretCommand() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:           "secret",
		Short:         "Manage encrypted secrets (github_token, notify_token)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setCmd := &cobra.Command{
		Use:           "set [session-id] [key]",
		Short:         "Store a secret; use \"-\" as session-id for global secrets",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          setSecret,
	}
	setCmd.Flags().String("value", "", "Secret value (prompted when omitted)")

	deleteCmd := &cobra.Command{
		Use:           "delete [session-id] [key]",
		Short:         "Remove a stored secret",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          deleteSecret,
	}

	secretCmd.AddCommand(setCmd, deleteCmd)
	return secretCmd
}

// secretScope maps the CLI's "-" placeholder to the global secret scope.
func secretScope(arg string) string {
	if arg == "-" {
		return ""
	}
	return arg
}

func setSecret(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	value, _ := cmd.Flags().GetString("value")
	if value == "" {
		if !terminal.IsTerminal(0) {
			return formatter.Error("No value provided and stdin is not a terminal", nil)
		}
		fmt.Printf("Enter value for %s: ", args[1])
		raw, err := terminal.ReadPassword(0)
		fmt.Println()
		if err != nil {
			return formatter.Error("Failed to read secret", err)
		}
		value = strings.TrimSpace(string(raw))
	}
	if value == "" {
		return formatter.Error("Secret value is empty", nil)
	}

	if err := c.SetSecret(cmd.Context(), secretScope(args[0]), args[1], value); err != nil {
		return formatter.Error("Failed to store secret", err)
	}
	return formatter.Success(fmt.Sprintf("Secret %s stored", args[1]),
		map[string]interface{}{"key": args[1]})
}

func deleteSecret(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	if err := c.DeleteSecret(cmd.Context(), secretScope(args[0]), args[1]); err != nil {
		return formatter.Error("Failed to delete secret", err)
	}
	return formatter.Success(fmt.Sprintf("Secret %s deleted", args[1]),
		map[string]interface{}{"key": args[1]})
}
