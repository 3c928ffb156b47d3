package storewatch

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/storewatch/kit"
	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/changelog"
	"github.com/hazyhaar/storewatch/storewatch/internal/monitor"
	"github.com/hazyhaar/storewatch/storewatch/internal/search"
	"github.com/hazyhaar/storewatch/storewatch/internal/valuetype"
)

// RegisterMCP registers the storewatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStartTool(srv)
	s.registerStopTool(srv)
	s.registerStateTool(srv)
	s.registerChangesTool(srv)
	s.registerClearLogTool(srv)
	s.registerStatsTool(srv)
	s.registerItemsTool(srv)
	s.registerExportLogTool(srv)
	s.registerSetItemTool(srv)
	s.registerDeleteItemTool(srv)
	s.registerSearchHistoryTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

var storageProp = map[string]any{
	"type":        "string",
	"enum":        []any{"localStorage", "sessionStorage", "local", "session"},
	"description": "Storage area",
}

type storageRequest struct {
	Storage string `json:"storage"`
}

func (s *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode kit.Decoder) {
	wrapped := kit.Chain(kit.Logging(s.logger.With("transport", "mcp"), tool.Name), kit.Recover())(endpoint)
	kit.RegisterMCPTool(srv, tool, wrapped, decode)
}

func (s *Service) registerStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_start",
		Description: "Start monitoring a storage area. The current content becomes the baseline; later changes are recorded.",
		InputSchema: inputSchema(map[string]any{"storage": storageProp}, []string{"storage"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		st, err := change.ParseStorageType(req.(*storageRequest).Storage)
		if err != nil {
			return nil, err
		}
		if err := s.Start(ctx, st); err != nil {
			return nil, err
		}
		return s.Status(st)
	}, kit.DecodeJSON[storageRequest]())
}

func (s *Service) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_stop",
		Description: "Stop monitoring a storage area. The change log is kept.",
		InputSchema: inputSchema(map[string]any{"storage": storageProp}, []string{"storage"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		st, err := change.ParseStorageType(req.(*storageRequest).Storage)
		if err != nil {
			return nil, err
		}
		if err := s.Stop(st); err != nil {
			return nil, err
		}
		return s.Status(st)
	}, kit.DecodeJSON[storageRequest]())
}

func (s *Service) registerStateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_state",
		Description: "Report monitoring state, change count and running duration. Omit storage for every area.",
		InputSchema: inputSchema(map[string]any{"storage": storageProp}, nil),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*storageRequest)
		if r.Storage == "" {
			return s.Statuses(), nil
		}
		st, err := change.ParseStorageType(r.Storage)
		if err != nil {
			return nil, err
		}
		return s.Status(st)
	}, kit.DecodeJSON[storageRequest]())
}

type changesRequest struct {
	Storage string   `json:"storage"`
	Actions []string `json:"actions,omitempty"`
	Keyword string   `json:"keyword,omitempty"`
	From    int64    `json:"from,omitempty"`
	To      int64    `json:"to,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (s *Service) registerChangesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_changes",
		Description: "List recorded changes, newest first, optionally filtered by action, keyword and time range.",
		InputSchema: inputSchema(map[string]any{
			"storage": storageProp,
			"actions": map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []any{"set", "remove", "clear"}}, "description": "Keep only these actions"},
			"keyword": map[string]any{"type": "string", "description": "Case-insensitive match on key, old value and new value"},
			"from":    map[string]any{"type": "integer", "description": "Earliest timestamp (epoch ms, inclusive)"},
			"to":      map[string]any{"type": "integer", "description": "Latest timestamp (epoch ms, inclusive)"},
			"limit":   map[string]any{"type": "integer", "description": "Max records (default all)"},
		}, []string{"storage"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*changesRequest)
		m, err := s.monitorFor(r.Storage)
		if err != nil {
			return nil, err
		}
		f := changelog.ChangeFilter{Keyword: r.Keyword, From: r.From, To: r.To}
		for _, a := range r.Actions {
			f.Actions = append(f.Actions, change.Action(a))
		}
		recs := m.Filter(f)
		if r.Limit > 0 && len(recs) > r.Limit {
			recs = recs[:r.Limit]
		}
		if recs == nil {
			recs = []change.Record{}
		}
		return recs, nil
	}, kit.DecodeJSON[changesRequest]())
}

func (s *Service) registerClearLogTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_clear_log",
		Description: "Delete every recorded change of a storage area.",
		InputSchema: inputSchema(map[string]any{"storage": storageProp}, []string{"storage"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		st, err := change.ParseStorageType(req.(*storageRequest).Storage)
		if err != nil {
			return nil, err
		}
		m, err := s.Monitor(st)
		if err != nil {
			return nil, err
		}
		m.ClearLog()
		return s.Status(st)
	}, kit.DecodeJSON[storageRequest]())
}

func (s *Service) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_stats",
		Description: "Item count, total size, value type distribution, largest items and quota usage of a storage area.",
		InputSchema: inputSchema(map[string]any{"storage": storageProp}, []string{"storage"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		st, err := change.ParseStorageType(req.(*storageRequest).Storage)
		if err != nil {
			return nil, err
		}
		return s.Stats(ctx, st)
	}, kit.DecodeJSON[storageRequest]())
}

type itemsRequest struct {
	Storage       string   `json:"storage"`
	Keyword       string   `json:"keyword,omitempty"`
	SearchIn      string   `json:"search_in,omitempty"`
	UseRegex      bool     `json:"use_regex,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	DeepSearch    bool     `json:"deep_search,omitempty"`
	Types         []string `json:"types,omitempty"`
	MinSize       *int     `json:"min_size,omitempty"`
	MaxSize       *int     `json:"max_size,omitempty"`
	Mask          bool     `json:"mask,omitempty"`
}

func (s *Service) registerItemsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_items",
		Description: "Read the current items of a storage area, optionally searched, filtered and with sensitive values masked.",
		InputSchema: inputSchema(map[string]any{
			"storage":        storageProp,
			"keyword":        map[string]any{"type": "string", "description": "Text or regular expression to search"},
			"search_in":      map[string]any{"type": "string", "enum": []any{"key", "value", "both"}, "description": "Where to search (default both)"},
			"use_regex":      map[string]any{"type": "boolean", "description": "Treat keyword as an ECMAScript regular expression"},
			"case_sensitive": map[string]any{"type": "boolean"},
			"deep_search":    map[string]any{"type": "boolean", "description": "Also search inside JSON values"},
			"types":          map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": []any{"string", "number", "boolean", "json", "null"}}},
			"min_size":       map[string]any{"type": "integer", "description": "Minimum value size in bytes"},
			"max_size":       map[string]any{"type": "integer", "description": "Maximum value size in bytes"},
			"mask":           map[string]any{"type": "boolean", "description": "Mask sensitive values"},
		}, []string{"storage"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*itemsRequest)
		st, err := change.ParseStorageType(r.Storage)
		if err != nil {
			return nil, err
		}
		q := Query{
			Search: search.Options{
				Keyword:       r.Keyword,
				In:            search.Scope(r.SearchIn),
				UseRegex:      r.UseRegex,
				CaseSensitive: r.CaseSensitive,
				DeepSearch:    r.DeepSearch,
			},
			Filter: search.Filter{MinSize: r.MinSize, MaxSize: r.MaxSize},
			Mask:   r.Mask,
		}
		for _, t := range r.Types {
			vt, err := valuetype.Parse(t)
			if err != nil {
				return nil, err
			}
			q.Filter.Types = append(q.Filter.Types, vt)
		}
		items, err := s.Items(ctx, st, q)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []change.Item{}
		}
		return items, nil
	}, kit.DecodeJSON[itemsRequest]())
}

func (s *Service) registerExportLogTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_export_log",
		Description: "Export the change log of a storage area with the monitor state.",
		InputSchema: inputSchema(map[string]any{"storage": storageProp}, []string{"storage"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		m, err := s.monitorFor(req.(*storageRequest).Storage)
		if err != nil {
			return nil, err
		}
		return m.Export(), nil
	}, kit.DecodeJSON[storageRequest]())
}

type setItemRequest struct {
	Storage string `json:"storage"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Mode    string `json:"mode,omitempty"`
}

type itemResult struct {
	Storage string `json:"storage"`
	Key     string `json:"key"`
	Action  string `json:"action"`
}

func (s *Service) registerSetItemTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_set_item",
		Description: "Add a new key or update an existing one in a storage area.",
		InputSchema: inputSchema(map[string]any{
			"storage": storageProp,
			"key":     map[string]any{"type": "string"},
			"value":   map[string]any{"type": "string"},
			"mode":    map[string]any{"type": "string", "enum": []any{"add", "update"}, "description": "add fails on an existing key, update on a missing one (default add)"},
		}, []string{"storage", "key", "value"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*setItemRequest)
		st, err := change.ParseStorageType(r.Storage)
		if err != nil {
			return nil, err
		}
		switch r.Mode {
		case "", "add":
			err = s.AddItem(ctx, st, r.Key, r.Value)
			r.Mode = "add"
		case "update":
			err = s.UpdateItem(ctx, st, r.Key, r.Value)
		default:
			return nil, fmt.Errorf("storewatch: unknown mode %q", r.Mode)
		}
		if err != nil {
			return nil, err
		}
		return itemResult{Storage: string(st), Key: r.Key, Action: r.Mode}, nil
	}, kit.DecodeJSON[setItemRequest]())
}

type deleteItemRequest struct {
	Storage string `json:"storage"`
	Key     string `json:"key"`
}

func (s *Service) registerDeleteItemTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_delete_item",
		Description: "Remove an existing key from a storage area.",
		InputSchema: inputSchema(map[string]any{
			"storage": storageProp,
			"key":     map[string]any{"type": "string"},
		}, []string{"storage", "key"}),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*deleteItemRequest)
		st, err := change.ParseStorageType(r.Storage)
		if err != nil {
			return nil, err
		}
		if err := s.DeleteItem(ctx, st, r.Key); err != nil {
			return nil, err
		}
		return itemResult{Storage: string(st), Key: r.Key, Action: "delete"}, nil
	}, kit.DecodeJSON[deleteItemRequest]())
}

type searchHistoryRequest struct {
	Action  string `json:"action,omitempty"`
	ID      string `json:"id,omitempty"`
	Storage string `json:"storage,omitempty"`
	Mask    bool   `json:"mask,omitempty"`
}

func (s *Service) registerSearchHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "storewatch_search_history",
		Description: "List, clear or replay remembered item searches.",
		InputSchema: inputSchema(map[string]any{
			"action":  map[string]any{"type": "string", "enum": []any{"list", "clear", "replay"}, "description": "default list"},
			"id":      map[string]any{"type": "string", "description": "Search to replay"},
			"storage": storageProp,
			"mask":    map[string]any{"type": "boolean", "description": "Mask sensitive values of replayed items"},
		}, nil),
	}
	s.register(srv, tool, func(ctx context.Context, req any) (any, error) {
		r := req.(*searchHistoryRequest)
		switch r.Action {
		case "", "list":
			entries := s.SearchHistory()
			if entries == nil {
				entries = []SearchEntry{}
			}
			return entries, nil
		case "clear":
			s.ClearSearchHistory()
			return []SearchEntry{}, nil
		case "replay":
			st, err := change.ParseStorageType(r.Storage)
			if err != nil {
				return nil, err
			}
			items, err := s.ReplaySearch(ctx, st, r.ID, r.Mask)
			if err != nil {
				return nil, err
			}
			if items == nil {
				items = []change.Item{}
			}
			return items, nil
		default:
			return nil, fmt.Errorf("storewatch: unknown action %q", r.Action)
		}
	}, kit.DecodeJSON[searchHistoryRequest]())
}

func (s *Service) monitorFor(name string) (*monitor.Monitor, error) {
	st, err := change.ParseStorageType(name)
	if err != nil {
		return nil, err
	}
	return s.Monitor(st)
}
