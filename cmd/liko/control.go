package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "start [session-id]",
		Short:         "Start a session's daily schedule loop",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			c, err := getClient(cmd)
			if err != nil {
				return formatter.Error("Failed to connect to daemon", err)
			}
			if err := c.StartSession(cmd.Context(), args[0]); err != nil {
				return formatter.Error("Failed to start session", err)
			}
			return formatter.Success(fmt.Sprintf("Session %s started", args[0]),
				map[string]interface{}{"session_id": args[0]})
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "stop [session-id]",
		Short:         "Stop a session's schedule loop",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			c, err := getClient(cmd)
			if err != nil {
				return formatter.Error("Failed to connect to daemon", err)
			}
			if err := c.StopSession(cmd.Context(), args[0]); err != nil {
				return formatter.Error("Failed to stop session", err)
			}
			return formatter.Success(fmt.Sprintf("Session %s stopping", args[0]),
				map[string]interface{}{"session_id": args[0]})
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "run [session-id]",
		Short:         "Trigger one immediate pass outside the schedule",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			c, err := getClient(cmd)
			if err != nil {
				return formatter.Error("Failed to connect to daemon", err)
			}
			if err := c.RunSession(cmd.Context(), args[0]); err != nil {
				return formatter.Error("Failed to trigger run", err)
			}
			return formatter.Success(
				fmt.Sprintf("Run accepted for session %s; follow progress with 'liko events'", args[0]),
				map[string]interface{}{"session_id": args[0]})
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status [session-id]",
		Short:         "Show whether a session's schedule loop is running",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newOutputFormatter(cmd)
			c, err := getClient(cmd)
			if err != nil {
				return formatter.Error("Failed to connect to daemon", err)
			}
			status, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return formatter.Error("Failed to query status", err)
			}
			if formatter.jsonMode {
				return formatter.Print(status)
			}
			state := "stopped"
			if status.Running {
				state = "running"
			}
			fmt.Printf("Session %s: %s\n", status.SessionID, state)
			if last := status.LastRun; last != nil {
				if last.Aborted {
					fmt.Printf("Last run: aborted (%s)\n", last.Reason)
				} else {
					fmt.Printf("Last run: %d/%d tokens, publish %s, %d/%d targets\n",
						last.TokensOK, last.TokensAttempted, last.PublishStatus,
						last.TargetsOK, last.TargetsOK+last.TargetsFailed)
				}
			}
			return nil
		},
	}
}

func newEventsCommand() *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:           "events",
		Short:         "Stream run lifecycle and progress events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          streamEvents,
	}
	eventsCmd.Flags().String("topic", "", "Limit to \"lifecycle\" or \"progress\" events")
	return eventsCmd
}

func streamEvents(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Failed to connect to daemon", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	topic, _ := cmd.Flags().GetString("topic")
	events, err := c.StreamEvents(ctx, topic)
	if err != nil {
		return formatter.Error("Failed to open event stream", err)
	}

	for event := range events {
		if formatter.jsonMode {
			formatter.Print(event)
			continue
		}
		fmt.Printf("%s  %-16s %s  %v\n",
			event.Timestamp.Format("15:04:05"), event.Topic, event.Source, event.Payload)
	}
	return nil
}
