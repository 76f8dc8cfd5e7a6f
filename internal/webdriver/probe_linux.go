package webdriver

import (
	"os/exec"
)

var chromeBinaries = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
}

// chromeVersion tries known install paths first, then whatever PATH
// resolves. Returns empty when no binary answers with a version.
func chromeVersion() string {
	for _, bin := range chromeBinaries {
		out, err := exec.Command(bin, "--version").Output()
		if err != nil {
			continue
		}
		if v := extractVersion(string(out)); v != "" {
			return v
		}
	}
	return ""
}
