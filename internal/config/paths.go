package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultInstance = "default"

// InstancePaths contains all paths for a liko instance.
type InstancePaths struct {
	Home     string // Instance home directory
	ConfigDB string // SQLite configuration store path
	Lock     string // Daemon lock file path
	Logs     string // Logs directory
	TempDir  string // Temporary files directory
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetLikoHome(), "instances", instanceName)

	return InstancePaths{
		Home:     instanceDir,
		ConfigDB: filepath.Join(instanceDir, "config.db"),
		Lock:     filepath.Join(instanceDir, "daemon.lock"),
		Logs:     filepath.Join(instanceDir, "logs"),
		TempDir:  filepath.Join(instanceDir, "tmp"),
	}
}

// EnsureInstanceDirs creates the directory layout for an instance and
// returns its paths.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)
	for _, dir := range []string{paths.Home, paths.Logs, paths.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	return paths, nil
}

// GetLikoHome returns the liko home directory (~/.liko), honouring the
// LIKO_HOME environment variable when set.
func GetLikoHome() string {
	if home := os.Getenv("LIKO_HOME"); home != "" {
		return home
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".liko")
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		userHome, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(userHome, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
