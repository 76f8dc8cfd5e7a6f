package webdriver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// blockingTransport stalls every request until released or cancelled.
type blockingTransport struct {
	release <-chan struct{}
}

func (t *blockingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	select {
	case <-t.release:
	case <-r.Context().Done():
	}
	return nil, errors.New("connection closed")
}

func blockingClient(release <-chan struct{}) *http.Client {
	return &http.Client{Transport: &blockingTransport{release: release}}
}

func newTestService(t *testing.T, mgr *Manager) *Service {
	t.Helper()
	s := NewService(mgr)
	s.pollInterval = 10 * time.Millisecond
	s.downloadTimeout = 5 * time.Second
	t.Cleanup(s.Cleanup)
	return s
}

func waitForState(t *testing.T, s *Service, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s (err: %v)", s.State(), want, s.Err())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServiceDownloadToReady(t *testing.T) {
	mgr := newDownloadingManager(t, 0)
	s := newTestService(t, mgr)

	var mu sync.Mutex
	var readyCount int
	var progress []float64
	s.OnReady(func(st Status) {
		mu.Lock()
		readyCount++
		mu.Unlock()
	})
	s.OnProgress(func(p float64) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if st := s.State(); st != StateDownloading && st != StateReady {
		t.Fatalf("state after Initialize = %s", st)
	}
	waitForState(t, s, StateReady)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if readyCount != 1 {
		t.Fatalf("ready fired %d times, want 1", readyCount)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress not monotone: %v", progress)
		}
	}
}

func TestServiceReadyImmediatelyFromCache(t *testing.T) {
	baseDir := t.TempDir()
	cache, err := OpenCache(baseDir + "/cache")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	driver := writeDriver(t, baseDir, "chromedriver", []byte("cached"))
	if err := cache.Put("131.0.0.0", "linux64", driver); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mgr, err := NewManager(ManagerOptions{BaseDir: baseDir, Probe: fakeProbe("131.0.0.0")})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	s := newTestService(t, mgr)

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %s, want ready", s.State())
	}

	// Late registration still observes readiness.
	fired := make(chan Status, 1)
	s.OnReady(func(st Status) { fired <- st })
	select {
	case st := <-fired:
		if st.DriverPath != driver {
			t.Fatalf("status path = %q", st.DriverPath)
		}
	case <-time.After(time.Second):
		t.Fatal("late OnReady never fired")
	}
}

func TestServiceDownloadFailure(t *testing.T) {
	mgr := newDownloadingManager(t, 100)
	s := newTestService(t, mgr)

	errCh := make(chan error, 1)
	s.OnError(func(err error) { errCh <- err })

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitForState(t, s, StateError)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("error callback got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("error callback never fired")
	}
}

func TestServiceDownloadTimeout(t *testing.T) {
	mgr := newDownloadingManager(t, 0)
	// Keep the manager permanently "downloading" by never letting its
	// download goroutine win the race: swap in a downloader that hangs.
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	mgr.opts.Downloader = NewDownloaderWithCatalogs(
		&staticCatalog{best: &Candidate{Version: "131.0.0.0", URL: "http://127.0.0.1:0/never"}},
		nil,
		blockingClient(block),
		nil,
	)
	mgr.opts.Downloader.sleep = func(time.Duration) {}

	s := newTestService(t, mgr)
	s.downloadTimeout = 50 * time.Millisecond

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitForState(t, s, StateError)
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), "Download timeout") {
		t.Fatalf("timeout error = %v, want Download timeout", err)
	}
}

func TestServiceCleanupDuringMonitorStartup(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	// Cleanup may run before the freshly spawned monitor goroutine gets
	// scheduled; the monitor must still shut down cleanly.
	for i := 0; i < 20; i++ {
		d := NewDownloaderWithCatalogs(
			&staticCatalog{best: &Candidate{Version: "131.0.0.0", URL: "http://127.0.0.1:0/never"}},
			nil,
			blockingClient(block),
			nil,
		)
		d.sleep = func(time.Duration) {}
		mgr, err := NewManager(ManagerOptions{
			BaseDir:    t.TempDir(),
			Probe:      fakeProbe("131.0.0.0"),
			Downloader: d,
		})
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		s := NewService(mgr)
		s.pollInterval = time.Millisecond
		if err := s.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		s.Cleanup()
	}
}

func TestServiceCallbackPanicIsRecovered(t *testing.T) {
	mgr := newDownloadingManager(t, 0)
	s := newTestService(t, mgr)

	s.OnReady(func(Status) { panic("observer bug") })
	ok := make(chan struct{}, 1)
	s.OnReady(func(Status) { ok <- struct{}{} })

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitForState(t, s, StateReady)

	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("second callback starved by panicking first")
	}
}
