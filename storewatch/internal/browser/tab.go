package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is a page opened on the origin whose storage is observed.
type Tab struct {
	Page *rod.Page
	URL  string
}

// OpenTab opens a tab on pageURL and waits for it to load. A load timeout
// is logged, not returned: storage is readable once the document exists.
func (m *Manager) OpenTab(ctx context.Context, pageURL string) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.browser == nil {
		return nil, fmt.Errorf("browser: not started")
	}

	var (
		page *rod.Page
		err  error
	)
	if m.cfg.Stealth {
		page, err = stealth.Page(m.browser)
	} else {
		page, err = m.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: new page: %w", err)
	}

	if len(m.block) > 0 {
		if err := m.block.install(page); err != nil {
			m.logger.Warn("browser: request blocking not installed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		m.logger.Warn("browser: page load incomplete", "url", pageURL, "error", err)
	}

	t := &Tab{Page: page, URL: pageURL}
	m.tabs = append(m.tabs, t)
	return t, nil
}

// Eval calls the JS function js with args and returns its string result.
// Arguments travel as CDP call arguments, never spliced into the source.
func (t *Tab) Eval(ctx context.Context, js string, args ...any) (string, error) {
	res, err := t.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

// Close closes the page.
func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}
