// Package webdriver manages the browser driver binary the agent depends
// on: platform and version detection, an integrity-checked cache,
// catalog-driven downloads with a mirror fallback, and a small state
// machine that reports readiness to callers.
package webdriver

import (
	"log/slog"
	"runtime"
)

// defaultChromeVersion is used when no installed Chrome can be detected.
// Old enough to resolve against any current driver catalog.
const defaultChromeVersion = "120.0.6099.109"

// PlatformTag maps the host ABI to the driver catalog's platform naming.
func PlatformTag() string {
	switch runtime.GOOS {
	case "windows":
		return "win64"
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "mac-arm64"
		}
		return "mac-x64"
	default:
		return "linux64"
	}
}

// DetectChrome probes the installed Chrome and returns its full version
// and the host platform tag. Detection failure falls back to a
// conservative default version with a warning.
func DetectChrome() (version, platform string) {
	platform = PlatformTag()
	version = chromeVersion()
	if version == "" {
		slog.Warn("could not detect Chrome version, assuming default",
			"default", defaultChromeVersion)
		version = defaultChromeVersion
	}
	return version, platform
}
