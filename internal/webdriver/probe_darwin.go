package webdriver

import (
	"os/exec"
)

var chromeBinaries = []string{
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"google-chrome",
	"chromium",
}

// chromeVersion checks the app bundles first, then PATH. The headless
// flags keep the probe from flashing a browser window.
func chromeVersion() string {
	for _, bin := range chromeBinaries {
		out, err := exec.Command(bin, "--version", "--headless", "--disable-gpu").Output()
		if err != nil {
			continue
		}
		if v := extractVersion(string(out)); v != "" {
			return v
		}
	}
	return ""
}
