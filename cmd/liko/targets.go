package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTargetsCommand() *cobra.Command {
	targetsCmd := &cobra.Command{
		Use:           "targets",
		Short:         "Manage a session's target UIDs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addCmd := &cobra.Command{
		Use:           "add [session-id] [uid...]",
		Short:         "Add target UIDs, skipping duplicates",
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          addTargets,
	}

	removeCmd := &cobra.Command{
		Use:           "remove [session-id] [uid]",
		Short:         "Remove one target UID",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          removeTarget,
	}

	listCmd := &cobra.Command{
		Use:           "list [session-id]",
		Short:         "List target UIDs",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listTargets,
	}

	targetsCmd.AddCommand(addCmd, removeCmd, listCmd)
	return targetsCmd
}

func addTargets(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	added, err := c.AddTargets(cmd.Context(), args[0], args[1:])
	if err != nil {
		return formatter.Error("Failed to add targets", err)
	}
	skipped := len(args[1:]) - added
	message := fmt.Sprintf("Added %d targets", added)
	if skipped > 0 {
		message = fmt.Sprintf("Added %d targets (%d duplicates skipped)", added, skipped)
	}
	return formatter.Success(message, map[string]interface{}{"added": added, "skipped": skipped})
}

func removeTarget(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	if err := c.RemoveTarget(cmd.Context(), args[0], args[1]); err != nil {
		return formatter.Error("Failed to remove target", err)
	}
	return formatter.Success(fmt.Sprintf("Removed target %s", args[1]),
		map[string]interface{}{"uid": args[1]})
}

func listTargets(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	targets, err := c.Targets(cmd.Context(), args[0])
	if err != nil {
		return formatter.Error("Failed to list targets", err)
	}

	if formatter.jsonMode {
		return formatter.Print(map[string]interface{}{"targets": targets, "count": len(targets)})
	}
	for _, uid := range targets {
		fmt.Println(uid)
	}
	fmt.Printf("%d targets\n", len(targets))
	return nil
}
