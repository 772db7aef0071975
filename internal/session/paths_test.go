package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TELESYNC_DIR", dir)
	if got := BaseDir(); got != dir {
		t.Errorf("BaseDir() = %q, want %q", got, dir)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	if err := EnsureDir(dir); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{dir, LogDir(dir), MediaDir(dir)} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("missing dir %s: %v", d, err)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}

func TestSocketAvailable(t *testing.T) {
	dir := t.TempDir()
	if SocketAvailable(dir) {
		t.Error("SocketAvailable() = true for empty dir")
	}
	if err := os.WriteFile(SocketPath(dir), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if !SocketAvailable(dir) {
		t.Error("SocketAvailable() = false with socket file present")
	}
}
