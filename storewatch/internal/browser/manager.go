// Package browser owns the Chrome instance storewatch reads page storage
// through. Chrome is launched locally or reached over a remote DevTools
// URL; tabs are opened with optional stealth evasions and request
// blocking.
//
// The process is never recycled while monitors run: a fresh Chrome would
// lose the sessionStorage being observed.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// ErrClosed is returned by a Manager after Close.
var ErrClosed = errors.New("browser: manager closed")

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome.
	// Empty launches a local one.
	RemoteURL string

	Headful bool
	Stealth bool

	// ResourceBlocking lists request types never loaded: image, font,
	// media, stylesheet. Plural forms are accepted.
	ResourceBlocking []string

	NavigateTimeout time.Duration // default 30s

	Logger *slog.Logger
}

// Manager holds one Chrome connection for the life of the process.
type Manager struct {
	cfg    Config
	block  blockSet
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	tabs    []*Tab
	closed  bool
}

// NewManager creates a Manager. Call Start before opening tabs.
func NewManager(cfg Config) *Manager {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, block: newBlockSet(cfg.ResourceBlocking), logger: logger}
}

// Start connects to Chrome, launching it if no RemoteURL is set. It is
// a no-op on a started manager.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.browser != nil {
		return nil
	}

	controlURL := m.cfg.RemoteURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).
			Headless(!m.cfg.Headful).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		controlURL, m.lnch = u, l
		m.logger.Info("browser: chrome launched", "control_url", controlURL, "headful", m.cfg.Headful)
	} else {
		m.logger.Info("browser: using remote chrome", "control_url", controlURL)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		m.cleanupLocked()
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return nil
}

// Close closes every tab, then Chrome. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, t := range m.tabs {
		t.Close()
	}
	m.tabs = nil
	m.cleanupLocked()
	return nil
}

func (m *Manager) cleanupLocked() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
