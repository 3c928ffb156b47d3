// Command storewatch observes the localStorage and sessionStorage of a web
// page through Chrome and reports every change.
//
// Usage:
//
//	storewatch watch --url https://example.com            # stream changes
//	storewatch serve --config storewatch.yaml --mcp-stdio # HTTP API + MCP
//	storewatch stats --url https://example.com
//	storewatch export --url https://example.com --format csv -o out.csv
//	storewatch import --url https://example.com --file items.json
//	storewatch snapshot create|list|restore|delete --db storewatch.db ...
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/storewatch/storewatch"
)

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
	url        string
	storages   []string
	remote     string
	db         string
	logLevel   string

	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "storewatch:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "storewatch",
		Short:         "Watch page localStorage and sessionStorage for changes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to storewatch.yaml")
	f.StringVar(&opts.url, "url", "", "page to observe (overrides config)")
	f.StringSliceVar(&opts.storages, "storage", nil, "storage areas: localStorage, sessionStorage (overrides config)")
	f.StringVar(&opts.remote, "remote", "", "WebSocket URL of a running Chrome (overrides config)")
	f.StringVar(&opts.db, "db", "", "SQLite file for change logs and snapshots (overrides config)")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newWatchCommand(opts),
		newServeCommand(opts),
		newStatsCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newSnapshotCommand(opts),
	)
	return cmd
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
}

// loadConfig builds the configuration from --config, then applies the
// flag overrides.
func (o *rootOptions) loadConfig() (*storewatch.Config, error) {
	var cfg *storewatch.Config
	switch {
	case o.configPath != "":
		c, err := storewatch.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	case o.url != "":
		cfg = storewatch.DefaultConfig(o.url)
	default:
		return nil, fmt.Errorf("either --config or --url is required")
	}

	if o.url != "" {
		cfg.URL = o.url
	}
	if len(o.storages) > 0 {
		cfg.Storages = o.storages
	}
	if o.remote != "" {
		cfg.Browser.Remote = o.remote
	}
	if o.db != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = o.db
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// open loads the configuration and opens a service on the page.
func (o *rootOptions) open(ctx context.Context, extra ...storewatch.OpenOption) (*storewatch.Service, *storewatch.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := storewatch.Open(ctx, cfg, append([]storewatch.OpenOption{storewatch.WithLogger(o.logger)}, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}
