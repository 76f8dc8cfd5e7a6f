package webdriver

import (
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+`)

// extractVersion pulls the first full four-part version out of arbitrary
// command output. Empty when none found.
func extractVersion(s string) string {
	return versionRe.FindString(s)
}

// major returns the leading version component, 0 when unparseable.
func major(version string) int {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}

// compareVersions orders dotted numeric versions. Missing components
// count as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
