package webstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// Evaluator runs a JS function in a page and returns its string result.
// *browser.Tab implements it.
type Evaluator interface {
	Eval(ctx context.Context, js string, args ...any) (string, error)
}

// Page scripts. The storage area name and every key/value are passed as
// call arguments, never spliced into the source. Each script returns JSON
// text: {"items":[...]}, {"found":..,"value":..}, {"ok":true} or
// {"error":"..."}.
const (
	jsItems = `(area) => {
	try {
		const s = window[area];
		const items = [];
		for (let i = 0; i < s.length; i++) {
			const k = s.key(i);
			if (k !== null) items.push({ key: k, value: s.getItem(k) ?? '' });
		}
		return JSON.stringify({ items });
	} catch (e) {
		return JSON.stringify({ error: String((e && e.message) || e) });
	}
}`

	jsGet = `(area, key) => {
	try {
		const v = window[area].getItem(key);
		return JSON.stringify({ found: v !== null, value: v ?? '' });
	} catch (e) {
		return JSON.stringify({ error: String((e && e.message) || e) });
	}
}`

	jsSet = `(area, key, value) => {
	try {
		window[area].setItem(key, value);
		return JSON.stringify({ ok: true });
	} catch (e) {
		return JSON.stringify({ error: String((e && e.message) || e) });
	}
}`

	jsRemove = `(area, key) => {
	try {
		window[area].removeItem(key);
		return JSON.stringify({ ok: true });
	} catch (e) {
		return JSON.stringify({ error: String((e && e.message) || e) });
	}
}`

	jsClear = `(area) => {
	try {
		window[area].clear();
		return JSON.stringify({ ok: true });
	} catch (e) {
		return JSON.stringify({ error: String((e && e.message) || e) });
	}
}`
)

// Rod reaches a storage area through page evaluation.
type Rod struct {
	page Evaluator
	st   change.StorageType
}

// NewRod returns a backend for storage area st of page.
func NewRod(page Evaluator, st change.StorageType) *Rod {
	return &Rod{page: page, st: st}
}

func (r *Rod) StorageType() change.StorageType { return r.st }

func (r *Rod) Read(ctx context.Context) (change.Snapshot, error) {
	items, err := r.items(ctx, "read")
	if err != nil {
		return nil, err
	}
	return change.SnapshotFromItems(items), nil
}

func (r *Rod) Items(ctx context.Context) ([]change.Item, error) {
	return r.items(ctx, "read")
}

func (r *Rod) Get(ctx context.Context, key string) (string, bool, error) {
	p, err := r.call(ctx, "get", key, jsGet, string(r.st), key)
	if err != nil {
		return "", false, err
	}
	return p.Value, p.Found, nil
}

func (r *Rod) Set(ctx context.Context, key, value string) error {
	_, err := r.call(ctx, "set", key, jsSet, string(r.st), key, value)
	return err
}

func (r *Rod) Remove(ctx context.Context, key string) error {
	_, err := r.call(ctx, "remove", key, jsRemove, string(r.st), key)
	return err
}

func (r *Rod) Clear(ctx context.Context) error {
	_, err := r.call(ctx, "clear", "", jsClear, string(r.st))
	return err
}

func (r *Rod) items(ctx context.Context, op string) ([]change.Item, error) {
	p, err := r.call(ctx, op, "", jsItems, string(r.st))
	if err != nil {
		return nil, err
	}
	if p.Items == nil {
		return []change.Item{}, nil
	}
	return p.Items, nil
}

func (r *Rod) call(ctx context.Context, op, key, js string, args ...any) (*payload, error) {
	raw, err := r.page.Eval(ctx, js, args...)
	if err != nil {
		return nil, &Error{Op: op, StorageType: r.st, Key: key, Thrown: true, Err: err}
	}
	p, err := decodePayload(raw)
	if err != nil {
		return nil, &Error{Op: op, StorageType: r.st, Key: key, Err: err}
	}
	return p, nil
}

type payload struct {
	Items []change.Item `json:"items"`
	Found bool          `json:"found"`
	Value string        `json:"value"`
	OK    bool          `json:"ok"`
	Error *string       `json:"error"`
}

func decodePayload(raw string) (*payload, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if p.Error != nil {
		msg := *p.Error
		if msg == "" {
			msg = "unknown page error"
		}
		return nil, errors.New(msg)
	}
	return &p, nil
}
