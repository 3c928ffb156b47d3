package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/webstorage"
)

// Mode selects how an import treats existing content.
type Mode string

const (
	// Merge writes imported items over the existing content.
	Merge Mode = "merge"
	// Overwrite clears the area first.
	Overwrite Mode = "overwrite"
)

// ImportOptions tunes an import.
type ImportOptions struct {
	Mode         Mode `json:"mode"`
	SkipExisting bool `json:"skipExisting"`
}

// ItemError is a per-item import failure.
type ItemError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// Result summarises an import.
type Result struct {
	Success int         `json:"success"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
	Errors  []ItemError `json:"errors"`
}

// ParseImport decodes an import file. Three shapes are accepted: an export
// Document (metadata and items), an array of {key, value} items, and a
// plain object whose members become items sorted by key. Values that are
// not JSON strings are kept as their compact JSON text.
func ParseImport(data []byte) ([]change.Item, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("transfer: parse import: empty input")
	}

	switch trimmed[0] {
	case '[':
		return parseItemArray(trimmed)
	case '{':
		var doc struct {
			Metadata json.RawMessage `json:"metadata"`
			Items    json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("transfer: parse import: %w", err)
		}
		if isPresent(doc.Metadata) && isPresent(doc.Items) {
			return parseItemArray(doc.Items)
		}
		return parseObject(trimmed)
	default:
		return nil, errors.New("transfer: parse import: expected a JSON object or array")
	}
}

func isPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func parseItemArray(data []byte) ([]change.Item, error) {
	var raw []struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("transfer: parse import: %w", err)
	}
	items := make([]change.Item, 0, len(raw))
	for _, r := range raw {
		v, err := valueText(r.Value)
		if err != nil {
			return nil, fmt.Errorf("transfer: parse import: key %q: %w", r.Key, err)
		}
		items = append(items, change.Item{Key: r.Key, Value: v})
	}
	return items, nil
}

func parseObject(data []byte) ([]change.Item, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("transfer: parse import: %w", err)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]change.Item, 0, len(keys))
	for _, k := range keys {
		v, err := valueText(obj[k])
		if err != nil {
			return nil, fmt.Errorf("transfer: parse import: key %q: %w", k, err)
		}
		items = append(items, change.Item{Key: k, Value: v})
	}
	return items, nil
}

func valueText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Import writes items into backend. In overwrite mode the area is cleared
// first and a failed clear aborts the import. Per-item failures are
// collected in the result; the import goes on with the next item.
// progress, if set, receives the completed percentage after each item.
func Import(ctx context.Context, backend webstorage.Backend, items []change.Item, opts ImportOptions, progress func(percent int)) (Result, error) {
	res := Result{Errors: []ItemError{}}

	if opts.Mode == Overwrite {
		if err := backend.Clear(ctx); err != nil {
			return res, fmt.Errorf("transfer: import: clear: %w", err)
		}
	}

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := importOne(ctx, backend, it, opts); err != nil {
			if errors.Is(err, errSkipped) {
				res.Skipped++
			} else {
				res.Failed++
				res.Errors = append(res.Errors, ItemError{Key: it.Key, Error: err.Error()})
			}
		} else {
			res.Success++
		}
		if progress != nil {
			progress(int(math.Round(float64(i+1) / float64(len(items)) * 100)))
		}
	}
	return res, nil
}

var errSkipped = errors.New("skipped")

func importOne(ctx context.Context, backend webstorage.Backend, it change.Item, opts ImportOptions) error {
	if opts.SkipExisting {
		_, exists, err := backend.Get(ctx, it.Key)
		if err != nil {
			return err
		}
		if exists {
			return errSkipped
		}
	}
	return backend.Set(ctx, it.Key, it.Value)
}
