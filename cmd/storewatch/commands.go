package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/storewatch/storewatch"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/api"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var jsonLines, noColor bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream storage changes to stdout until interrupted",
		Long: `Open the page, take a baseline of each storage area and print every
change. Output is one line per change on a terminal, JSON lines otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var sk storewatch.Sink
			if jsonLines || !isTerminal(out) {
				sk = storewatch.NewStdoutSink(out)
			} else {
				sk = storewatch.NewPrettySink(out, !noColor)
			}

			ctx := cmd.Context()
			svc, _, err := opts.open(ctx, storewatch.WithSinks(sk))
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.StartAll(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonLines, "json", false, "force JSON lines output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colors in terminal output")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	var mcpStdio bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitors with the HTTP API, websocket feed and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var openOpts []storewatch.OpenOption
			if mcpStdio {
				// stdout carries the MCP stream.
				openOpts = append(openOpts, storewatch.WithStdout(cmd.ErrOrStderr()))
			}
			svc, cfg, err := opts.open(ctx, openOpts...)
			if err != nil {
				return err
			}
			defer svc.Close()

			if addr == "" {
				addr = cfg.HTTP.Addr
			}
			if addr == "" {
				addr = ":8088"
			}

			if err := svc.StartAll(ctx); err != nil {
				return err
			}

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           api.New(svc, opts.logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				opts.logger.Info("storewatch: http listening", "addr", addr)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			})
			if mcpStdio {
				g.Go(func() error {
					srv := mcp.NewServer(&mcp.Implementation{Name: "storewatch", Version: "1.0.0"}, nil)
					svc.RegisterMCP(srv)
					opts.logger.Info("storewatch: mcp on stdio")
					return srv.Run(gctx, &mcp.StdioTransport{})
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default: config http.addr or :8088)")
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "also serve MCP tools on stdin/stdout; stdout sinks then write to stderr")
	return cmd
}

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print size, type distribution and quota usage of each storage area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			out := make(map[change.StorageType]change.Stats)
			for _, st := range svc.StorageTypes() {
				s, err := svc.Stats(ctx, st)
				if err != nil {
					return err
				}
				out[st] = s
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	var format, output string
	var noMetadata, pretty bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the items of one storage area as JSON or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := storewatch.ParseFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := singleStorage(svc)
			if err != nil {
				return err
			}
			data, err := svc.Export(ctx, st, f, storewatch.ExportOptions{
				IncludeMetadata: !noMetadata,
				Pretty:          pretty,
			})
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "omit export metadata")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent JSON output")
	return cmd
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	var file, mode string
	var skipExisting bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Write items from a JSON file into one storage area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			m := storewatch.ImportMode(mode)
			if m != storewatch.ImportMerge && m != storewatch.ImportOverwrite {
				return fmt.Errorf("invalid mode %q: must be merge or overwrite", mode)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			svc, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := singleStorage(svc)
			if err != nil {
				return err
			}
			progress := func(percent int) {
				opts.logger.Debug("storewatch: import progress", "percent", percent)
			}
			res, err := svc.Import(ctx, st, data, storewatch.ImportOptions{Mode: m, SkipExisting: skipExisting}, progress)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file to import")
	cmd.Flags().StringVar(&mode, "mode", string(storewatch.ImportMerge), "merge or overwrite")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "keep keys that already exist")
	return cmd
}

func newSnapshotCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, restore and delete storage snapshots",
		Long: `Snapshots are kept in the blob store. Use --db (or store.driver in the
config) so they outlive the process.`,
	}

	withArea := func(run func(ctx context.Context, svc *storewatch.Service, st change.StorageType, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()
			st, err := singleStorage(svc)
			if err != nil {
				return err
			}
			return run(ctx, svc, st, cmd, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Snapshot the current items",
			Args:  cobra.ExactArgs(1),
			RunE: withArea(func(ctx context.Context, svc *storewatch.Service, st change.StorageType, cmd *cobra.Command, args []string) error {
				snap, err := svc.CreateSnapshot(ctx, st, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"id": snap.ID, "name": snap.Name, "items": len(snap.Items)})
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List snapshots",
			Args:  cobra.NoArgs,
			RunE: withArea(func(ctx context.Context, svc *storewatch.Service, st change.StorageType, cmd *cobra.Command, args []string) error {
				a, err := svc.Area(st)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.Snapshots.List())
			}),
		},
		&cobra.Command{
			Use:   "restore <id>",
			Short: "Replace the current items with a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: withArea(func(ctx context.Context, svc *storewatch.Service, st change.StorageType, cmd *cobra.Command, args []string) error {
				return svc.RestoreSnapshot(ctx, st, args[0])
			}),
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: withArea(func(ctx context.Context, svc *storewatch.Service, st change.StorageType, cmd *cobra.Command, args []string) error {
				a, err := svc.Area(st)
				if err != nil {
					return err
				}
				return a.Snapshots.Delete(args[0])
			}),
		},
	)
	return cmd
}

// singleStorage returns the only observed area.
func singleStorage(svc *storewatch.Service) (change.StorageType, error) {
	sts := svc.StorageTypes()
	if len(sts) != 1 {
		return "", fmt.Errorf("this command works on one storage area, got %d: pass a single --storage", len(sts))
	}
	return sts[0], nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
