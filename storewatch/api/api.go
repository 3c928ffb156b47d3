// Package api exposes a storewatch Service over HTTP: monitor control,
// change log queries, storage reads, snapshots, a websocket change feed
// and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/storewatch/storewatch"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/changelog"
	"github.com/hazyhaar/storewatch/storewatch/internal/monitor"
	"github.com/hazyhaar/storewatch/storewatch/internal/search"
	"github.com/hazyhaar/storewatch/storewatch/internal/snapshot"
	"github.com/hazyhaar/storewatch/storewatch/internal/transfer"
	"github.com/hazyhaar/storewatch/storewatch/internal/valuetype"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

// MaxImportBytes bounds import request bodies.
const MaxImportBytes = 10 << 20

// maxItemBytes bounds single item writes: 5 MiB of value plus framing.
const maxItemBytes = 6 << 20

// Server serves the HTTP API of one Service.
type Server struct {
	svc    *storewatch.Service
	hub    *Hub
	now    func() time.Time
	logger *slog.Logger
}

// New returns a server for svc and registers its websocket hub as a sink.
func New(svc *storewatch.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger)
	svc.AddSink(hub)
	return &Server{svc: svc, hub: hub, now: time.Now, logger: logger}
}

// Hub returns the websocket feed hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(RequestLog(s.logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/search/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.svc.SearchHistory())
	})
	r.Delete("/api/search/history", func(w http.ResponseWriter, _ *http.Request) {
		s.svc.ClearSearchHistory()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api/monitors", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.svc.Statuses())
		})

		r.Route("/{type}", func(r chi.Router) {
			r.Use(s.storageCtx)

			r.Get("/", s.handleStatus)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)

			r.Get("/changes", s.handleChanges)
			r.Delete("/changes", s.handleClearChanges)
			r.Get("/changes/export", s.handleExportChanges)
			r.Get("/recent/{key}", s.handleRecent)

			r.Get("/items", s.handleItems)
			r.With(MaxBody(maxItemBytes)).Post("/items", s.handleAddItem)
			r.With(MaxBody(maxItemBytes)).Put("/items/{key}", s.handleUpdateItem)
			r.Delete("/items/{key}", s.handleDeleteItem)
			r.Get("/items/replay/{id}", s.handleReplaySearch)
			r.Get("/items/export", s.handleExportItems)
			r.With(MaxBody(MaxImportBytes)).Post("/items/import", s.handleImport)
			r.Get("/stats", s.handleStats)

			r.Get("/snapshots", s.handleListSnapshots)
			r.Post("/snapshots", s.handleCreateSnapshot)
			r.Post("/snapshots/{id}/restore", s.handleRestoreSnapshot)
			r.Delete("/snapshots/{id}", s.handleDeleteSnapshot)

			r.Get("/feed", func(w http.ResponseWriter, r *http.Request) {
				s.hub.serve(w, r, storageFrom(r.Context()))
			})
		})
	})
	return r
}

type storageKey struct{}

// storageCtx resolves {type} and rejects areas the service does not observe.
func (s *Server) storageCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := change.ParseStorageType(chi.URLParam(r, "type"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if _, err := s.svc.Area(st); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), storageKey{}, st)))
	})
}

func storageFrom(ctx context.Context) change.StorageType {
	st, _ := ctx.Value(storageKey{}).(change.StorageType)
	return st
}

func (s *Server) area(r *http.Request) *storewatch.Area {
	a, _ := s.svc.Area(storageFrom(r.Context()))
	return a
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(storageFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Start(r.Context(), storageFrom(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Stop(storageFrom(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	s.handleStatus(w, r)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := changelog.ChangeFilter{Keyword: q.Get("q")}
	for _, a := range splitList(q["action"]) {
		act := change.Action(a)
		if !act.Valid() {
			writeError(w, http.StatusBadRequest, errors.New("unknown action "+strconv.Quote(a)))
			return
		}
		f.Actions = append(f.Actions, act)
	}
	var err error
	if f.From, err = queryInt64(q, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if f.To, err = queryInt64(q, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	recs := s.area(r).Monitor.Filter(f)
	if limit, _ := strconv.Atoi(q.Get("limit")); limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	if recs == nil {
		recs = []change.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleClearChanges(w http.ResponseWriter, r *http.Request) {
	s.area(r).Monitor.ClearLog()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportChanges(w http.ResponseWriter, r *http.Request) {
	attachment(w, transfer.ChangeLogFilename(s.now()))
	writeJSON(w, http.StatusOK, s.area(r).Monitor.Export())
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":    key,
		"recent": s.area(r).Monitor.IsRecentlyChanged(key),
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items, err := s.svc.Items(r.Context(), storageFrom(r.Context()), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type itemRequest struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

func decodeItem(r *http.Request) (itemRequest, error) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid body: %w", err)
	}
	if req.Value == nil {
		return req, errors.New("value is required")
	}
	return req, nil
}

func pathKey(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "key"))
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	req, err := decodeItem(r)
	if err == nil && req.Key == "" {
		err = errors.New("key is required")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.AddItem(r.Context(), storageFrom(r.Context()), req.Key, *req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, change.Item{Key: req.Key, Value: *req.Value})
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := decodeItem(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.UpdateItem(r.Context(), storageFrom(r.Context()), key, *req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change.Item{Key: key, Value: *req.Value})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.DeleteItem(r.Context(), storageFrom(r.Context()), key); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplaySearch(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.ReplaySearch(r.Context(), storageFrom(r.Context()),
		chi.URLParam(r, "id"), queryBool(r.URL.Query(), "mask", false))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleExportItems(w http.ResponseWriter, r *http.Request) {
	format := transfer.FormatJSON
	if v := r.URL.Query().Get("format"); v != "" {
		f, err := transfer.ParseFormat(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		format = f
	}
	st := storageFrom(r.Context())
	now := s.now()
	data, err := s.svc.Export(r.Context(), st, format, transfer.ExportOptions{
		IncludeMetadata: queryBool(r.URL.Query(), "metadata", true),
		Pretty:          queryBool(r.URL.Query(), "pretty", false),
		Now:             func() time.Time { return now },
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if format == transfer.FormatCSV {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	attachment(w, transfer.Filename(st, format, now))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	q := r.URL.Query()
	opts := transfer.ImportOptions{
		Mode:         transfer.Merge,
		SkipExisting: queryBool(q, "skipExisting", false),
	}
	if q.Get("mode") == string(transfer.Overwrite) {
		opts.Mode = transfer.Overwrite
	}
	items, err := transfer.ParseImport(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.ImportItems(r.Context(), storageFrom(r.Context()), items, opts, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context(), storageFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list := s.area(r).Snapshots.List()
	if list == nil {
		list = []snapshot.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	snap, err := s.svc.CreateSnapshot(r.Context(), storageFrom(r.Context()), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RestoreSnapshot(r.Context(), storageFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.area(r).Snapshots.Delete(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps service errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var werr *webstorage.Error
	var rerr *snapshot.RestoreError
	switch {
	case errors.Is(err, storewatch.ErrUnknownStorage), errors.Is(err, snapshot.ErrNotFound),
		errors.Is(err, storewatch.ErrUnknownSearch), errors.Is(err, webstorage.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, monitor.ErrClosed), errors.Is(err, webstorage.ErrKeyExists):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &rerr), errors.As(err, &werr):
		loggerFrom(r.Context()).Warn("api: storage operation failed", "error", err)
		writeError(w, http.StatusBadGateway, err)
	default:
		loggerFrom(r.Context()).Error("api: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

// parseQuery reads item search parameters: q, in, regex, case, deep,
// type (repeatable or comma separated), min, max and mask.
func parseQuery(q url.Values) (storewatch.Query, error) {
	out := storewatch.Query{
		Search: search.Options{
			Keyword:       q.Get("q"),
			In:            search.Scope(q.Get("in")),
			UseRegex:      queryBool(q, "regex", false),
			CaseSensitive: queryBool(q, "case", false),
			DeepSearch:    queryBool(q, "deep", false),
		},
		Mask: queryBool(q, "mask", false),
	}
	switch out.Search.In {
	case "", search.InKey, search.InValue, search.InBoth:
	default:
		return out, errors.New("invalid in: " + strconv.Quote(string(out.Search.In)))
	}
	for _, t := range splitList(q["type"]) {
		vt, err := valuetype.Parse(t)
		if err != nil {
			return out, err
		}
		out.Filter.Types = append(out.Filter.Types, vt)
	}
	for _, p := range []struct {
		name string
		dst  **int
	}{{"min", &out.Filter.MinSize}, {"max", &out.Filter.MaxSize}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return out, errors.New("invalid " + p.name + ": " + strconv.Quote(v))
			}
			*p.dst = &n
		}
	}
	return out, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func queryInt64(q url.Values, key string) (int64, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + key + ": " + strconv.Quote(v))
	}
	return n, nil
}

func queryBool(q url.Values, key string, def bool) bool {
	v := q.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func attachment(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
