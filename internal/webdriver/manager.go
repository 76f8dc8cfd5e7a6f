package webdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

// Status is a point-in-time snapshot of the driver lifecycle.
type Status struct {
	Initialized   bool    `json:"initialized"`
	ChromeVersion string  `json:"chrome_version"`
	Platform      string  `json:"platform"`
	DriverPath    string  `json:"driver_path,omitempty"`
	Downloading   bool    `json:"downloading"`
	Progress      float64 `json:"progress"`
	Error         string  `json:"error,omitempty"`
}

// ManagerOptions configure a driver manager. Zero values select the
// real probe, downloader, and no project directory.
type ManagerOptions struct {
	BaseDir    string // required: root of <version>/<platform> driver dirs
	ProjectDir string // optional: checked for an existing driver first
	Probe      func() (version, platform string)
	Downloader *Downloader
}

// Manager owns driver acquisition for one process: probe, local search,
// cache, background download.
type Manager struct {
	opts   ManagerOptions
	cache  *Cache
	logger *slog.Logger

	mu            sync.Mutex
	initialized   bool
	chromeVersion string
	platform      string
	driverPath    string
	downloading   bool
	progress      float64
	lastErr       error
	done          chan struct{}
	cancel        context.CancelFunc
}

// NewManager opens the cache under BaseDir/cache and prepares a manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.BaseDir == "" {
		return nil, errors.New("webdriver: BaseDir required")
	}
	cache, err := OpenCache(filepath.Join(opts.BaseDir, "cache"))
	if err != nil {
		return nil, err
	}
	if opts.Probe == nil {
		opts.Probe = DetectChrome
	}
	m := &Manager{
		opts:   opts,
		cache:  cache,
		logger: slog.Default(),
	}
	if opts.Downloader == nil {
		opts.Downloader = NewDownloader(m.setProgress)
		m.opts.Downloader = opts.Downloader
	}
	return m, nil
}

// Initialize probes Chrome and either records an existing compatible
// driver or starts a background download. Idempotent; concurrent calls
// serialize on the internal lock and later ones return immediately.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	m.chromeVersion, m.platform = m.opts.Probe()
	m.logger.Info("initializing webdriver manager",
		"chrome_version", m.chromeVersion, "platform", m.platform)

	if path := m.findLocalDriver(); path != "" {
		m.driverPath = path
		m.initialized = true
		m.logger.Info("using existing webdriver", "path", path)
		return nil
	}

	dlCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.downloading = true
	m.done = make(chan struct{})
	m.initialized = true
	go m.download(dlCtx)
	return nil
}

// findLocalDriver checks the project directory and then the cache for a
// driver whose major matches Chrome's.
func (m *Manager) findLocalDriver() string {
	binName := "chromedriver"
	if runtime.GOOS == "windows" {
		binName = "chromedriver.exe"
	}

	if m.opts.ProjectDir != "" {
		path := filepath.Join(m.opts.ProjectDir, binName)
		if _, err := os.Stat(path); err == nil && m.compatible(path) {
			return path
		}
	}

	if path := m.cache.Get(m.chromeVersion, m.platform); path != "" {
		return path
	}
	return ""
}

// driverVersionOutput asks a driver binary for its version. Overridden
// in tests.
var driverVersionOutput = func(path string) string {
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return ""
	}
	return string(out)
}

func (m *Manager) compatible(driverPath string) bool {
	v := extractVersion(driverVersionOutput(driverPath))
	if v == "" {
		return false
	}
	return major(v) == major(m.chromeVersion)
}

func (m *Manager) download(ctx context.Context) {
	targetDir := filepath.Join(m.opts.BaseDir, m.chromeVersion, m.platform)
	path, err := m.opts.Downloader.Download(ctx, m.chromeVersion, m.platform, targetDir)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.lastErr = err
		m.logger.Error("webdriver download failed", "error", err)
	} else {
		m.driverPath = path
		if cerr := m.cache.Put(m.chromeVersion, m.platform, path); cerr != nil {
			m.logger.Warn("failed to cache downloaded driver", "error", cerr)
		}
	}
	m.downloading = false
	close(m.done)
}

func (m *Manager) setProgress(percent float64) {
	m.mu.Lock()
	if percent > m.progress {
		m.progress = percent
	}
	m.mu.Unlock()
}

// WebDriverPath returns the driver path, blocking while a download is in
// flight.
func (m *Manager) WebDriverPath(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return "", errors.New("webdriver: manager not initialized")
	}
	path, err, done := m.driverPath, m.lastErr, m.done
	downloading := m.downloading
	m.mu.Unlock()

	if path != "" {
		return path, nil
	}
	if !downloading {
		if err != nil {
			return "", err
		}
		return "", errors.New("webdriver: no driver available")
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-done:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.driverPath != "" {
		return m.driverPath, nil
	}
	if m.lastErr != nil {
		return "", m.lastErr
	}
	return "", errors.New("webdriver: no driver available")
}

// DownloadProgress reports the newest observed percentage.
func (m *Manager) DownloadProgress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// IsDownloadComplete reports whether no download is in flight.
func (m *Manager) IsDownloadComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && !m.downloading
}

// GetStatus snapshots the manager state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Initialized:   m.initialized,
		ChromeVersion: m.chromeVersion,
		Platform:      m.platform,
		DriverPath:    m.driverPath,
		Downloading:   m.downloading,
		Progress:      m.progress,
	}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}

// Cleanup aborts any in-flight download and resets the manager so a
// later Initialize starts fresh.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	downloading := m.downloading
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if downloading && done != nil {
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.downloading = false
	m.driverPath = ""
	m.progress = 0
	m.lastErr = nil
	m.cancel = nil
	m.done = nil
}

// ClearCache removes every cached driver binary.
func (m *Manager) ClearCache() { m.cache.ClearAll() }

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// Default returns the process-wide manager, creating it on first call
// with the given options. Later calls return the existing instance and
// ignore opts.
func Default(opts ManagerOptions) (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultManager != nil {
		return defaultManager, nil
	}
	m, err := NewManager(opts)
	if err != nil {
		return nil, fmt.Errorf("creating default webdriver manager: %w", err)
	}
	defaultManager = m
	return m, nil
}

// ResetDefault clears the process-wide manager. Test hook.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultManager = nil
}
