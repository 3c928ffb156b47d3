package storewatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/storewatch/blobstore"
	"github.com/hazyhaar/storewatch/storewatch/internal/browser"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

// OpenOption customises Open.
type OpenOption func(*openOptions)

type openOptions struct {
	logger *slog.Logger
	stdout io.Writer
	extra  []Sink
}

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(l *slog.Logger) OpenOption {
	return func(o *openOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSinks appends sinks to the configured ones.
func WithSinks(s ...Sink) OpenOption {
	return func(o *openOptions) { o.extra = append(o.extra, s...) }
}

// WithStdout redirects configured stdout sinks to w. Use it when os.Stdout
// carries a protocol stream, such as MCP over stdio.
func WithStdout(w io.Writer) OpenOption {
	return func(o *openOptions) { o.stdout = w }
}

func newOpenOptions(opts []OpenOption) *openOptions {
	o := &openOptions{logger: slog.Default(), stdout: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *openOptions) sinks(cfg *Config) ([]Sink, error) {
	sinks, err := SinksFromConfig(cfg.Sinks, o.stdout, o.logger)
	if err != nil {
		return nil, err
	}
	return append(sinks, o.extra...), nil
}

// Open launches (or connects to) Chrome, opens a tab on cfg.URL and
// returns a Service observing the configured storage areas of that page.
// Closing the service closes the browser manager, which closes the tab it
// opened, then the blob store.
func Open(ctx context.Context, cfg *Config, opts ...OpenOption) (*Service, error) {
	o := newOpenOptions(opts)
	logger := o.logger
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sinks, err := o.sinks(cfg)
	if err != nil {
		return nil, err
	}

	store, storeCloser, err := blobstore.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("storewatch: open store: %w", err)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headful:          cfg.Browser.Headful,
		Stealth:          cfg.Browser.StealthEnabled(),
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		storeCloser.Close()
		return nil, fmt.Errorf("storewatch: start browser: %w", err)
	}

	tab, err := mgr.OpenTab(ctx, cfg.URL)
	if err != nil {
		mgr.Close()
		storeCloser.Close()
		return nil, fmt.Errorf("storewatch: open tab: %w", err)
	}
	logger.Info("storewatch: page opened", "url", cfg.URL)

	var backends []webstorage.Backend
	for _, st := range cfg.StorageTypes() {
		backends = append(backends, webstorage.NewRod(tab, st))
	}

	svc := New(backends, Options{
		Store:   store,
		Monitor: cfg.Monitor,
		Sinks:   sinks,
		Logger:  logger,
	})
	for _, c := range []io.Closer{mgr, storeCloser} {
		svc.addCloser(c)
	}
	return svc, nil
}
