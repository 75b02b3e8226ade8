package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/liko-dev/liko/internal/client"
)

func newSessionsCommand() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:           "sessions",
		Short:         "Manage automation sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List configured sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listSessions,
	}

	setCmd := &cobra.Command{
		Use:           "set [session-id]",
		Short:         "Create or update a session's endpoints",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          setSession,
	}
	setCmd.Flags().String("jwt-api", "", "JWT generation API base URL")
	setCmd.Flags().String("like-api", "", "Like delivery API base URL")
	setCmd.Flags().String("github-repo", "", "GitHub repository (owner/name)")
	setCmd.Flags().String("github-path", "", "Path of the token file inside the repository")
	setCmd.Flags().String("notify-chat", "", "Telegram chat ID for notifications")

	showCmd := &cobra.Command{
		Use:           "show [session-id]",
		Short:         "Show a session's configuration",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          showSession,
	}

	deleteCmd := &cobra.Command{
		Use:           "delete [session-id]",
		Short:         "Delete a session and everything scoped to it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          deleteSession,
	}

	sessionsCmd.AddCommand(listCmd, setCmd, showCmd, deleteCmd)
	return sessionsCmd
}

func listSessions(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	sessions, err := c.Sessions(cmd.Context())
	if err != nil {
		return formatter.Error("Failed to list sessions", err)
	}

	if formatter.jsonMode {
		return formatter.Print(map[string]interface{}{"sessions": sessions})
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tJWT API\tGITHUB REPO\tFILE PATH")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.SessionID, s.JWTAPI, s.GitHubRepo, s.GitHubFilePath)
	}
	return w.Flush()
}

func setSession(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	sessionID := args[0]
	session, err := c.Session(cmd.Context(), sessionID)
	if err != nil {
		// New session; start from a blank configuration.
		session = client.Session{SessionID: sessionID}
	}

	applyFlag := func(name string, target *string) {
		if cmd.Flags().Changed(name) {
			value, _ := cmd.Flags().GetString(name)
			*target = value
		}
	}
	applyFlag("jwt-api", &session.JWTAPI)
	applyFlag("like-api", &session.LikeAPI)
	applyFlag("github-repo", &session.GitHubRepo)
	applyFlag("github-path", &session.GitHubFilePath)
	applyFlag("notify-chat", &session.NotifyChat)

	if err := c.UpsertSession(cmd.Context(), session); err != nil {
		return formatter.Error("Failed to save session", err)
	}
	return formatter.Success(fmt.Sprintf("Session %s saved", sessionID),
		map[string]interface{}{"session_id": sessionID})
}

func showSession(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	session, err := c.Session(cmd.Context(), args[0])
	if err != nil {
		return formatter.Error("Failed to load session", err)
	}

	if formatter.jsonMode {
		return formatter.Print(session)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "Session:\t%s\n", session.SessionID)
	fmt.Fprintf(w, "JWT API:\t%s\n", session.JWTAPI)
	fmt.Fprintf(w, "Like API:\t%s\n", session.LikeAPI)
	fmt.Fprintf(w, "GitHub repo:\t%s\n", session.GitHubRepo)
	fmt.Fprintf(w, "GitHub path:\t%s\n", session.GitHubFilePath)
	fmt.Fprintf(w, "Notify chat:\t%s\n", session.NotifyChat)
	return w.Flush()
}

func deleteSession(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	if err := c.DeleteSession(cmd.Context(), args[0]); err != nil {
		return formatter.Error("Failed to delete session", err)
	}
	return formatter.Success(fmt.Sprintf("Session %s deleted", args[0]),
		map[string]interface{}{"session_id": args[0]})
}
