package webdriver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the driver service lifecycle phase. READY and ERROR are
// terminal.
type State string

const (
	StateInit        State = "initializing"
	StateDownloading State = "downloading"
	StateReady       State = "ready"
	StateError       State = "error"
)

const (
	defaultPollInterval    = 3 * time.Second
	defaultDownloadTimeout = 600 * time.Second
)

// Service wraps a Manager with a state machine and callback registries
// so callers can react to driver readiness without polling.
type Service struct {
	mgr    *Manager
	logger *slog.Logger

	pollInterval    time.Duration
	downloadTimeout time.Duration

	mu          sync.Mutex
	state       State
	lastErr     error
	readyFired  bool
	onReady     []func(Status)
	onProgress  []func(float64)
	onError     []func(error)
	cancel      context.CancelFunc
	monitorDone chan struct{}
}

// NewService builds a service over the manager.
func NewService(mgr *Manager) *Service {
	return &Service{
		mgr:             mgr,
		logger:          slog.Default(),
		pollInterval:    defaultPollInterval,
		downloadTimeout: defaultDownloadTimeout,
		state:           StateInit,
	}
}

// State returns the current lifecycle phase.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// OnReady registers a callback fired exactly once when the driver is
// ready. Registering after readiness fires the callback immediately.
func (s *Service) OnReady(fn func(Status)) {
	s.mu.Lock()
	fireNow := s.state == StateReady
	if !fireNow {
		s.onReady = append(s.onReady, fn)
	}
	s.mu.Unlock()
	if fireNow {
		s.fire(func() { fn(s.mgr.GetStatus()) })
	}
}

// OnProgress registers a callback fired on every observed progress
// change while downloading.
func (s *Service) OnProgress(fn func(float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onProgress = append(s.onProgress, fn)
}

// OnError registers a callback fired when the service reaches ERROR.
func (s *Service) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = append(s.onError, fn)
}

// Initialize starts the manager and, when a download is in flight,
// spawns the monitor that drives the state machine.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.mgr.Initialize(ctx); err != nil {
		s.toError(err)
		return err
	}

	status := s.mgr.GetStatus()
	if status.DriverPath != "" {
		s.toReady()
		return nil
	}
	if !status.Downloading {
		err := fmt.Errorf("webdriver: initialization finished with no driver: %s", status.Error)
		s.toError(err)
		return err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.state = StateDownloading
	s.cancel = cancel
	s.monitorDone = done
	s.mu.Unlock()
	go s.monitor(monitorCtx, done)
	return nil
}

// monitor polls download progress until completion or timeout. It owns
// done and is the only closer; Cleanup may nil out s.monitorDone while
// the goroutine is still running.
func (s *Service) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.downloadTimeout)
	defer deadline.Stop()

	lastProgress := -1.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.toError(fmt.Errorf("webdriver: Download timeout after %s", s.downloadTimeout))
			return
		case <-ticker.C:
		}

		status := s.mgr.GetStatus()
		if status.Progress > lastProgress {
			lastProgress = status.Progress
			s.fireProgress(status.Progress)
		}
		if s.mgr.IsDownloadComplete() {
			if status.DriverPath != "" || s.mgr.GetStatus().DriverPath != "" {
				s.toReady()
			} else {
				s.toError(fmt.Errorf("webdriver: download failed: %s", s.mgr.GetStatus().Error))
			}
			return
		}
	}
}

func (s *Service) toReady() {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	fired := s.readyFired
	s.readyFired = true
	callbacks := s.onReady
	s.onReady = nil
	s.mu.Unlock()

	if fired {
		return
	}
	s.logger.Info("webdriver service ready")
	status := s.mgr.GetStatus()
	for _, fn := range callbacks {
		fn := fn
		s.fire(func() { fn(status) })
	}
}

func (s *Service) toError(err error) {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastErr = err
	callbacks := append([]func(error){}, s.onError...)
	s.mu.Unlock()

	s.logger.Error("webdriver service failed", "error", err)
	for _, fn := range callbacks {
		fn := fn
		s.fire(func() { fn(err) })
	}
}

func (s *Service) fireProgress(percent float64) {
	s.mu.Lock()
	callbacks := append([]func(float64){}, s.onProgress...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn := fn
		s.fire(func() { fn(percent) })
	}
}

// fire runs a callback, recovering panics so a bad observer cannot take
// down the state machine.
func (s *Service) fire(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("webdriver callback panicked", "panic", r)
		}
	}()
	fn()
}

// Cleanup stops the monitor and resets the underlying manager.
func (s *Service) Cleanup() {
	s.mu.Lock()
	cancel, done := s.cancel, s.monitorDone
	s.cancel = nil
	s.monitorDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.mgr.Cleanup()
}
