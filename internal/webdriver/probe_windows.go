package webdriver

import (
	"os"
	"os/exec"
	"path/filepath"
)

var registryQueries = [][]string{
	{`HKCU\Software\Google\Chrome\BLBeacon`, "version"},
	{`HKLM\Software\Google\Chrome\BLBeacon`, "version"},
	{`HKLM\Software\Google\Update\Clients\{8A69D345-D564-463c-AFF1-A69D9E530F96}`, "pv"},
}

// chromeVersion walks the registry, then App Paths install locations,
// then asks the executable itself.
func chromeVersion() string {
	for _, q := range registryQueries {
		out, err := exec.Command("reg", "query", q[0], "/v", q[1]).Output()
		if err != nil {
			continue
		}
		if v := extractVersion(string(out)); v != "" {
			return v
		}
	}

	for _, exe := range chromeExecutables() {
		out, err := exec.Command(exe, "--version").Output()
		if err != nil {
			continue
		}
		if v := extractVersion(string(out)); v != "" {
			return v
		}
	}
	return ""
}

func chromeExecutables() []string {
	var paths []string
	for _, dir := range []string{
		os.Getenv("ProgramFiles"),
		os.Getenv("ProgramFiles(x86)"),
		os.Getenv("LocalAppData"),
	} {
		if dir != "" {
			paths = append(paths, filepath.Join(dir, `Google\Chrome\Application\chrome.exe`))
		}
	}
	return append(paths, "chrome.exe")
}
