//go:build !darwin && !windows

package config

import (
	"os"
	"path/filepath"
)

// defaultDataDir follows the XDG base directory convention on Linux and
// other Unix-like systems.
func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "agentcore-data"
		}
	}
	return filepath.Join(dir, "agentcore")
}
