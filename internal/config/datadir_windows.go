//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func defaultDataDir() string {
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return filepath.Join(dir, "agentcore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "AppData", "Local", "agentcore")
	}
	return "agentcore-data"
}
