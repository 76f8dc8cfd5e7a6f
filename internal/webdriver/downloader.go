package webdriver

import (
	"archive/zip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	downloadAttempts = 3
	backoffBase      = 2 * time.Second
	backoffJitter    = 500 * time.Millisecond
)

// DownloadError reports an exhausted or unresolvable driver download.
type DownloadError struct {
	ChromeVersion string
	Platform      string
	Err           error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("webdriver: download for chrome %s (%s): %v", e.ChromeVersion, e.Platform, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ProgressFunc observes download progress as a percentage in [0,100].
// Values are monotonically non-decreasing per download.
type ProgressFunc func(percent float64)

// Downloader resolves and fetches driver binaries.
type Downloader struct {
	primary  Catalog
	mirror   Catalog
	client   *http.Client
	insecure *http.Client
	logger   *slog.Logger
	progress ProgressFunc
	sleep    func(time.Duration)
}

// NewDownloader wires the default catalogs. progress may be nil.
func NewDownloader(progress ProgressFunc) *Downloader {
	client := &http.Client{Timeout: 5 * time.Minute}
	insecure := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return &Downloader{
		primary:  NewPrimaryCatalog(client),
		mirror:   NewMirrorCatalog(insecure),
		client:   client,
		insecure: insecure,
		logger:   slog.Default(),
		progress: progress,
		sleep:    time.Sleep,
	}
}

// NewDownloaderWithCatalogs is the test seam: explicit catalogs and HTTP
// client.
func NewDownloaderWithCatalogs(primary, mirror Catalog, client *http.Client, progress ProgressFunc) *Downloader {
	return &Downloader{
		primary:  primary,
		mirror:   mirror,
		client:   client,
		insecure: client,
		logger:   slog.Default(),
		progress: progress,
		sleep:    time.Sleep,
	}
}

// Download fetches the best driver for the Chrome version into targetDir
// and returns the extracted binary path.
func (d *Downloader) Download(ctx context.Context, chromeVersion, platform, targetDir string) (string, error) {
	candidate, err := d.resolve(ctx, chromeVersion, platform)
	if err != nil {
		return "", &DownloadError{ChromeVersion: chromeVersion, Platform: platform, Err: err}
	}
	d.logger.Info("downloading webdriver",
		"driver_version", candidate.Version,
		"chrome_version", chromeVersion,
		"platform", platform,
		"mirror", candidate.Insecure)

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", &DownloadError{ChromeVersion: chromeVersion, Platform: platform, Err: err}
	}

	zipPath := filepath.Join(targetDir, "chromedriver.zip")
	if err := d.fetchWithRetry(ctx, candidate, zipPath); err != nil {
		return "", &DownloadError{ChromeVersion: chromeVersion, Platform: platform, Err: err}
	}
	defer os.Remove(zipPath)

	driverPath, err := extractDriver(zipPath, targetDir)
	if err != nil {
		return "", &DownloadError{ChromeVersion: chromeVersion, Platform: platform, Err: err}
	}
	d.logger.Info("webdriver ready", "path", driverPath)
	return driverPath, nil
}

// resolve walks primary then mirror for a same-major candidate, falling
// back to the nearest major seen.
func (d *Downloader) resolve(ctx context.Context, chromeVersion, platform string) (*Candidate, error) {
	var fallback *Candidate
	for _, cat := range []Catalog{d.primary, d.mirror} {
		if cat == nil {
			continue
		}
		best, nearest, err := cat.Resolve(ctx, chromeVersion, platform)
		if err != nil {
			d.logger.Warn("catalog resolve failed", "error", err)
			continue
		}
		if best != nil {
			return best, nil
		}
		if fallback == nil {
			fallback = nearest
		}
	}
	if fallback != nil {
		d.logger.Warn("no exact major match, using nearest",
			"requested", chromeVersion, "candidate", fallback.Version)
		return fallback, nil
	}
	return nil, fmt.Errorf("no catalog entry for chrome %s on %s", chromeVersion, platform)
}

// fetchWithRetry streams the candidate to dest. Attempts back off
// exponentially with jitter; a partial file never survives a failed or
// cancelled attempt.
func (d *Downloader) fetchWithRetry(ctx context.Context, candidate *Candidate, dest string) error {
	var lastErr error
	for attempt := 0; attempt < downloadAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffBase<<(attempt-1) + time.Duration(rand.Int63n(int64(backoffJitter)))
			d.logger.Warn("retrying download", "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			d.sleep(delay)
		}
		if err := d.fetch(ctx, candidate, dest); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d attempts failed: %w", downloadAttempts, lastErr)
}

func (d *Downloader) fetch(ctx context.Context, candidate *Candidate, dest string) (err error) {
	client := d.client
	if candidate.Insecure {
		client = d.insecure
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", candidate.URL, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(dest)
		}
	}()

	var written int64
	lastPercent := -1.0
	buf := make([]byte, 256*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			if d.progress != nil && resp.ContentLength > 0 {
				percent := float64(written) / float64(resp.ContentLength) * 100
				if percent > lastPercent {
					lastPercent = percent
					d.progress(percent)
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if d.progress != nil {
		d.progress(100)
	}
	return f.Sync()
}

// extractDriver unpacks the zip and returns the driver binary, which may
// sit at any depth inside the archive. Non-Windows binaries get the
// executable bit.
func extractDriver(zipPath, targetDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("opening driver archive: %w", err)
	}
	defer r.Close()

	wantName := "chromedriver"
	if runtime.GOOS == "windows" {
		wantName = "chromedriver.exe"
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != wantName {
			continue
		}
		if strings.Contains(f.Name, "..") {
			continue
		}
		dest := filepath.Join(targetDir, wantName)
		if err := copyZipFile(f, dest); err != nil {
			return "", err
		}
		if runtime.GOOS != "windows" {
			if err := os.Chmod(dest, 0o755); err != nil {
				return "", fmt.Errorf("marking driver executable: %w", err)
			}
		}
		return dest, nil
	}
	return "", fmt.Errorf("no %s inside %s", wantName, filepath.Base(zipPath))
}

func copyZipFile(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s in archive: %w", f.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return out.Close()
}
