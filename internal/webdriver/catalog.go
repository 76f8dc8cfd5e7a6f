package webdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const (
	primaryCatalogURL = "https://googlechromelabs.github.io/chrome-for-testing/known-good-versions-with-downloads.json"
	mirrorIndexURL    = "https://registry.npmmirror.com/-/binary/chrome-for-testing/"
	mirrorDownloadURL = "https://registry.npmmirror.com/-/binary/chrome-for-testing/%s/%s/chromedriver-%s.zip"
)

// Candidate is a resolved driver download.
type Candidate struct {
	Version string
	URL     string
	// Insecure marks downloads whose TLS certificate is not verified.
	// Mirror hosts sit behind regional proxies with inconsistent chains.
	Insecure bool
}

// Catalog resolves driver versions to download URLs for a platform.
// best is the newest version with the requested major that is not newer
// than the requested version; nearest is the closest-major fallback.
// Both may be nil.
type Catalog interface {
	Resolve(ctx context.Context, chromeVersion, platform string) (best, nearest *Candidate, err error)
}

// PrimaryCatalog reads the Chrome-for-Testing versioned JSON index.
type PrimaryCatalog struct {
	URL  string
	HTTP *http.Client
}

func NewPrimaryCatalog(client *http.Client) *PrimaryCatalog {
	return &PrimaryCatalog{URL: primaryCatalogURL, HTTP: client}
}

type primaryIndex struct {
	Versions []struct {
		Version   string `json:"version"`
		Downloads struct {
			Chromedriver []struct {
				Platform string `json:"platform"`
				URL      string `json:"url"`
			} `json:"chromedriver"`
		} `json:"downloads"`
	} `json:"versions"`
}

func (c *PrimaryCatalog) Resolve(ctx context.Context, chromeVersion, platform string) (*Candidate, *Candidate, error) {
	var index primaryIndex
	if err := fetchJSON(ctx, c.HTTP, c.URL, &index); err != nil {
		return nil, nil, fmt.Errorf("fetching primary catalog: %w", err)
	}

	urls := make(map[string]string, len(index.Versions))
	versions := make([]string, 0, len(index.Versions))
	for _, v := range index.Versions {
		for _, d := range v.Downloads.Chromedriver {
			if d.Platform == platform {
				urls[v.Version] = d.URL
				versions = append(versions, v.Version)
				break
			}
		}
	}

	best, nearest := selectVersion(versions, chromeVersion)
	mk := func(version string) *Candidate {
		if version == "" {
			return nil
		}
		return &Candidate{Version: version, URL: urls[version]}
	}
	return mk(best), mk(nearest), nil
}

// MirrorCatalog reads a directory-listing style index and derives
// download URLs from a deterministic template.
type MirrorCatalog struct {
	IndexURL    string
	DownloadURL string // fmt template: version, platform, platform
	HTTP        *http.Client
}

func NewMirrorCatalog(client *http.Client) *MirrorCatalog {
	return &MirrorCatalog{
		IndexURL:    mirrorIndexURL,
		DownloadURL: mirrorDownloadURL,
		HTTP:        client,
	}
}

type mirrorEntry struct {
	Name string `json:"name"`
}

func (c *MirrorCatalog) Resolve(ctx context.Context, chromeVersion, platform string) (*Candidate, *Candidate, error) {
	var entries []mirrorEntry
	if err := fetchJSON(ctx, c.HTTP, c.IndexURL, &entries); err != nil {
		return nil, nil, fmt.Errorf("fetching mirror catalog: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name, "/")
		if extractVersion(name) == name {
			versions = append(versions, name)
		}
	}

	best, nearest := selectVersion(versions, chromeVersion)
	mk := func(version string) *Candidate {
		if version == "" {
			return nil
		}
		return &Candidate{
			Version:  version,
			URL:      fmt.Sprintf(c.DownloadURL, version, platform, platform),
			Insecure: true,
		}
	}
	return mk(best), mk(nearest), nil
}

// selectVersion picks from available versions. best is the newest with
// the same major that does not exceed requested; nearest is the newest
// version in the major closest to the requested major, used only when
// best is empty.
func selectVersion(available []string, requested string) (best, nearest string) {
	wantMajor := major(requested)
	sorted := append([]string(nil), available...)
	sort.Slice(sorted, func(i, j int) bool {
		return compareVersions(sorted[i], sorted[j]) > 0
	})

	nearestDist := -1
	for _, v := range sorted {
		m := major(v)
		if m == wantMajor && compareVersions(v, requested) <= 0 && best == "" {
			best = v
		}
		dist := m - wantMajor
		if dist < 0 {
			dist = -dist
		}
		if nearestDist == -1 || dist < nearestDist {
			nearestDist = dist
			nearest = v
		}
	}
	return best, nearest
}

func fetchJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
