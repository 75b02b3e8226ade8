package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liko-dev/liko/internal/config"
	"github.com/liko-dev/liko/internal/daemon"
	"github.com/liko-dev/liko/internal/procutil"
	daemonruntime "github.com/liko-dev/liko/internal/runtime"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:           "daemon",
		Short:         "Daemon management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Get daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	stopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonCmd.AddCommand(statusCmd, stopCmd)
	return daemonCmd
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	instance := instanceName(cmd)

	if !daemon.IsRunning(instance) {
		if formatter.jsonMode {
			return formatter.Print(map[string]interface{}{"running": false})
		}
		fmt.Println("Daemon is not running")
		return nil
	}

	c, err := getClient(cmd)
	if err != nil {
		return formatter.Error("Daemon is running but unreachable", err)
	}
	version, err := c.Version(cmd.Context())
	if err != nil {
		return formatter.Error("Daemon is running but unreachable", err)
	}

	if formatter.jsonMode {
		return formatter.Print(map[string]interface{}{
			"running": true,
			"version": version,
			"url":     c.BaseURL(),
		})
	}
	fmt.Printf("Daemon is running (version %s) at %s\n", version, c.BaseURL())
	return nil
}

func daemonStop(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	paths := config.GetInstancePaths(instanceName(cmd))

	pid, err := daemonruntime.ReadPIDFile(paths.Lock)
	if err != nil {
		return formatter.Error("Daemon is not running", err)
	}
	if !procutil.IsProcessAlive(pid) {
		return formatter.Error("Daemon is not running", nil)
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return formatter.Error("Failed to stop daemon", err)
	}
	return formatter.Success(fmt.Sprintf("Sent stop signal to daemon (PID: %d)", pid),
		map[string]interface{}{"pid": pid})
}
