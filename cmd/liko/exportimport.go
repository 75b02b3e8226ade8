package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liko-dev/liko/internal/client"
)

// sessionExport is the YAML document produced by `liko export` and
// consumed by `liko import`. Secrets are deliberately not included.
type sessionExport struct {
	SessionID      string          `yaml:"session_id"`
	JWTAPI         string          `yaml:"jwt_api"`
	LikeAPI        string          `yaml:"like_api"`
	GitHubRepo     string          `yaml:"github_repo"`
	GitHubFilePath string          `yaml:"github_file_path"`
	NotifyChat     string          `yaml:"notify_chat,omitempty"`
	Accounts       []accountExport `yaml:"accounts,omitempty"`
	Targets        []string        `yaml:"targets,omitempty"`
}

type accountExport struct {
	UID      string `yaml:"uid" json:"uid"`
	Password string `yaml:"password" json:"password"`
}

func newExportCommand() *cobra.Command {
	exportCmd := &cobra.Command{
		Use:           "export [session-id]",
		Short:         "Export a session's configuration, roster and targets as YAML",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          exportSession,
	}
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	return exportCmd
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "import [file]",
		Short:         "Import a session from a YAML export",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          importSession,
	}
}

func exportSession(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	sessionID := args[0]
	session, err := c.Session(cmd.Context(), sessionID)
	if err != nil {
		return formatter.Error("Failed to load session", err)
	}
	roster, err := c.Accounts(cmd.Context(), sessionID)
	if err != nil {
		return formatter.Error("Failed to load accounts", err)
	}
	targets, err := c.Targets(cmd.Context(), sessionID)
	if err != nil {
		return formatter.Error("Failed to load targets", err)
	}

	export := sessionExport{
		SessionID:      session.SessionID,
		JWTAPI:         session.JWTAPI,
		LikeAPI:        session.LikeAPI,
		GitHubRepo:     session.GitHubRepo,
		GitHubFilePath: session.GitHubFilePath,
		NotifyChat:     session.NotifyChat,
		Targets:        targets,
	}
	for _, account := range roster {
		export.Accounts = append(export.Accounts, accountExport{
			UID:      account.UID,
			Password: account.Password,
		})
	}

	data, err := yaml.Marshal(export)
	if err != nil {
		return formatter.Error("Failed to encode export", err)
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return formatter.Error("Failed to write export file", err)
	}
	return formatter.Success(fmt.Sprintf("Exported session %s to %s", sessionID, output),
		map[string]interface{}{"file": output})
}

func importSession(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return formatter.Error("Failed to read import file", err)
	}

	var export sessionExport
	if err := yaml.Unmarshal(data, &export); err != nil {
		return formatter.Error("Failed to parse import file", err)
	}
	if export.SessionID == "" {
		return formatter.Error("Import file has no session_id", nil)
	}

	err = c.UpsertSession(cmd.Context(), client.Session{
		SessionID:      export.SessionID,
		JWTAPI:         export.JWTAPI,
		LikeAPI:        export.LikeAPI,
		GitHubRepo:     export.GitHubRepo,
		GitHubFilePath: export.GitHubFilePath,
		NotifyChat:     export.NotifyChat,
	})
	if err != nil {
		return formatter.Error("Failed to save session", err)
	}

	if len(export.Accounts) > 0 {
		roster, err := json.Marshal(export.Accounts)
		if err != nil {
			return formatter.Error("Failed to encode roster", err)
		}
		if _, err := c.ReplaceAccounts(cmd.Context(), export.SessionID, roster); err != nil {
			return formatter.Error("Failed to import accounts", err)
		}
	}
	if len(export.Targets) > 0 {
		if _, err := c.AddTargets(cmd.Context(), export.SessionID, export.Targets); err != nil {
			return formatter.Error("Failed to import targets", err)
		}
	}

	return formatter.Success(
		fmt.Sprintf("Imported session %s (%d accounts, %d targets)",
			export.SessionID, len(export.Accounts), len(export.Targets)),
		map[string]interface{}{
			"session_id": export.SessionID,
			"accounts":   len(export.Accounts),
			"targets":    len(export.Targets),
		})
}
