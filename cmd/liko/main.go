package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	likoversion "github.com/liko-dev/liko/internal/version"
)

var rootCmd *cobra.Command

func init() {
	rootCmd = &cobra.Command{
		Use:   "liko",
		Short: "Liko - scheduled token generation, publishing and like delivery",
		Long: `Liko manages per-user automation sessions: it generates JWTs for guest
account rosters, publishes them to GitHub and delivers likes to target
UIDs, either on demand or on a daily schedule run by likod.`,
	}
	rootCmd.Version = likoversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("instance", "", "Instance name (default \"default\")")
}

func main() {
	rootCmd.AddCommand(
		newSessionsCommand(),
		newAccountsCommand(),
		newTargetsCommand(),
		newSecretCommand(),
		newStartCommand(),
		newStopCommand(),
		newRunCommand(),
		newStatusCommand(),
		newEventsCommand(),
		newExportCommand(),
		newImportCommand(),
		newDaemonCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
