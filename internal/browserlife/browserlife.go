// Package browserlife manages the single shared browser instance the Fetch
// Engine drives concurrent requests through, per SPEC_FULL §4.2/§5: one
// rod.Browser, gated by a counting semaphore capped at
// MAX_CONCURRENT_BROWSERS concurrent pages, and recycled — under a
// mutually-exclusive restart section — once it has served
// MAX_REQUESTS_PER_BROWSER requests.
//
// This differs structurally from the teacher's own browser.Pool, which
// manages N independently-recycled browsers. That shape doesn't fit here:
// the spec's model (inherited from the original source's StealthScraper)
// is one browser shared by many in-flight requests, not N browsers each
// owned by one request at a time. The lifecycle bookkeeping below —
// a stats struct, mutex-guarded state, recycling on a request counter —
// is carried over from Pool's idiom and re-targeted at that single-browser
// model.
package browserlife

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned by Acquire once the Browser has been shut down.
var ErrClosed = errors.New("browser lifecycle manager is closed")

// Stats reports the shared browser's current lifecycle state, exposed via
// the /health endpoint.
type Stats struct {
	Connected      bool `json:"browser_connected"`
	ActiveContexts int  `json:"active_browser_contexts"`
	ConcurrencyCap int  `json:"concurrency_limit"`
	RequestCount   int  `json:"request_count"`
	RestartCount   int  `json:"restart_count"`
}

// Manager owns the single shared *rod.Browser and the semaphore gating
// concurrent page use. Every field mutation is serialized by mu.
type Manager struct {
	mu             sync.Mutex
	browser        *rod.Browser
	chromePath     string
	maxPerBrowser  int
	gate           chan struct{} // counting semaphore, capacity = MaxConcurrent
	active         int
	requestCount   int
	restartCount   int
	restarting     bool
	restartCond    *sync.Cond
	closed         bool
	logger         *slog.Logger
}

// Config carries the two knobs SPEC_FULL §5 names for the shared browser:
// how many pages may be open concurrently, and how many requests a browser
// instance serves before it is recycled.
type Config struct {
	MaxConcurrent        int
	MaxRequestsPerBrowser int
	ChromePath           string
}

// NewManager constructs a Manager. The browser itself is launched lazily on
// the first Acquire, matching the original source's on-first-use browser
// startup.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	m := &Manager{
		chromePath:    cfg.ChromePath,
		maxPerBrowser: cfg.MaxRequestsPerBrowser,
		gate:          make(chan struct{}, cfg.MaxConcurrent),
		logger:        logger,
	}
	m.restartCond = sync.NewCond(&m.mu)
	return m
}

// Lease represents one gated, in-use handle on the shared browser. Callers
// must call Release exactly once when done with the page.
type Lease struct {
	Browser *rod.Browser
	mgr     *Manager
}

// Acquire blocks until a gate slot is free and the shared browser is not
// mid-restart, then returns a Lease wrapping the live *rod.Browser. It
// launches the browser on first use.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case m.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	for m.restarting {
		m.restartCond.Wait()
	}
	if m.closed {
		m.mu.Unlock()
		<-m.gate
		return nil, ErrClosed
	}
	if m.browser == nil {
		b, err := m.launch()
		if err != nil {
			m.mu.Unlock()
			<-m.gate
			return nil, err
		}
		m.browser = b
	}
	browser := m.browser
	m.active++
	m.mu.Unlock()

	return &Lease{Browser: browser, mgr: m}, nil
}

// Release returns the lease's gate slot and accounts the completed request.
// Once the shared browser crosses MaxRequestsPerBrowser served requests, it
// recycles the browser under the mutually-exclusive restart section: new
// Acquire calls block until the new browser is up. The restart does not wait
// for leases still open on the old browser; their pages close with it.
func (l *Lease) Release() {
	l.mgr.release()
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active--
	m.requestCount++
	needsRestart := m.maxPerBrowser > 0 && m.requestCount >= m.maxPerBrowser && !m.restarting && !m.closed
	if needsRestart {
		m.restarting = true
	}
	m.mu.Unlock()

	<-m.gate

	if needsRestart {
		m.restart()
	}
}

// restart closes the current browser and launches a replacement under the
// mutually-exclusive restart section. Any Acquire callers that arrived
// during the restart are parked on restartCond and woken once it completes.
func (m *Manager) restart() {
	m.mu.Lock()
	old := m.browser
	m.mu.Unlock()

	if old != nil {
		if err := closeFunc(old); err != nil {
			m.logger.Warn("error closing browser during restart", "error", err)
		}
	}

	newBrowser, err := m.launch()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Error("failed to relaunch browser", "error", err)
		m.browser = nil
	} else {
		m.browser = newBrowser
		m.requestCount = 0
		m.restartCount++
		m.logger.Info("browser recycled", "restart_count", m.restartCount)
	}
	m.restarting = false
	m.restartCond.Broadcast()
}

// launchFunc and closeFunc are overridden in tests to avoid spawning or
// tearing down a real Chromium process.
var launchFunc = defaultLaunch
var closeFunc = func(b *rod.Browser) error { return b.Close() }

func (m *Manager) launch() (*rod.Browser, error) {
	return launchFunc(m)
}

func defaultLaunch(m *Manager) (*rod.Browser, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-infobars").
		Set("disable-background-networking")

	if m.chromePath != "" {
		l = l.Bin(m.chromePath)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return browser, nil
}

// Close shuts down the shared browser. Subsequent Acquire calls return
// ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	b := m.browser
	m.browser = nil
	m.mu.Unlock()

	if b != nil {
		return closeFunc(b)
	}
	return nil
}

// Stats reports the manager's current lifecycle state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Connected:      m.browser != nil,
		ActiveContexts: m.active,
		ConcurrencyCap: cap(m.gate),
		RequestCount:   m.requestCount,
		RestartCount:   m.restartCount,
	}
}

// WaitIdle blocks until no lease is outstanding or the context is
// cancelled, used during graceful shutdown to let in-flight fetches drain.
func (m *Manager) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		m.mu.Lock()
		active := m.active
		m.mu.Unlock()
		if active == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
