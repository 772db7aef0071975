package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns the telesync state directory. TELESYNC_DIR overrides
// the default ~/.telesync (useful for tests and multiple accounts).
func BaseDir() string {
	if dir := os.Getenv("TELESYNC_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".telesync")
}

// ConfigPath returns the config file path inside dir.
func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.toml")
}

// SessionPath returns the MTProto session file path inside dir.
func SessionPath(dir string) string {
	return filepath.Join(dir, "session.json")
}

// CachePath returns the cache database path inside dir.
func CachePath(dir string) string {
	return filepath.Join(dir, "telesync.db")
}

// SocketPath returns the daemon control socket path inside dir.
func SocketPath(dir string) string {
	return filepath.Join(dir, "telesyncd.sock")
}

// MediaDir returns the media download root inside dir.
func MediaDir(dir string) string {
	return filepath.Join(dir, "media")
}

// LogDir returns the daemon log directory inside dir.
func LogDir(dir string) string {
	return filepath.Join(dir, "logs")
}

// LogPath returns the daemon log file path inside dir.
func LogPath(dir string) string {
	return filepath.Join(LogDir(dir), "telesyncd.log")
}

// SocketAvailable reports whether a daemon control socket exists in dir.
// The socket file is removed on graceful shutdown, so its presence is a
// good (not perfect) signal that a daemon is running.
func SocketAvailable(dir string) bool {
	_, err := os.Stat(SocketPath(dir))
	return err == nil
}

// EnsureDir creates the state directory tree with owner-only permissions.
func EnsureDir(dir string) error {
	for _, d := range []string{dir, LogDir(dir), MediaDir(dir)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
