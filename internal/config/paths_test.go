package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetInstancePathsDefault(t *testing.T) {
	t.Setenv("LIKO_HOME", "/tmp/liko-test-home")

	paths := GetInstancePaths("")
	wantHome := filepath.Join("/tmp/liko-test-home", "instances", "default")
	if paths.Home != wantHome {
		t.Fatalf("expected home %s, got %s", wantHome, paths.Home)
	}
	if paths.ConfigDB != filepath.Join(wantHome, "config.db") {
		t.Fatalf("unexpected config db path: %s", paths.ConfigDB)
	}
	if paths.Lock != filepath.Join(wantHome, "daemon.lock") {
		t.Fatalf("unexpected lock path: %s", paths.Lock)
	}
}

func TestEnsureInstanceDirsCreatesLayout(t *testing.T) {
	t.Setenv("LIKO_HOME", t.TempDir())

	paths, err := EnsureInstanceDirs("itest")
	if err != nil {
		t.Fatalf("EnsureInstanceDirs: %v", err)
	}
	for _, dir := range []string{paths.Home, paths.Logs, paths.TempDir} {
		if !dirExists(t, dir) {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
}

func dirExists(t *testing.T, dir string) bool {
	t.Helper()
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	return info.IsDir()
}
