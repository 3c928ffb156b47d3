// Package render prints change records for humans: one line per record,
// with value changes shown as a character diff or, for JSON objects, as a
// JSON merge patch.
package render

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/fatih/color"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// DefaultMaxValue bounds displayed values, in runes.
const DefaultMaxValue = 120

// Renderer writes records to w.
type Renderer struct {
	mu       sync.Mutex
	w        io.Writer
	loc      *time.Location
	maxValue int

	added, removed, changed, dim *color.Color
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLocation sets the time zone of timestamps. Default: time.Local.
func WithLocation(loc *time.Location) Option { return func(r *Renderer) { r.loc = loc } }

// WithMaxValue sets the display limit for values. Zero disables truncation.
func WithMaxValue(n int) Option { return func(r *Renderer) { r.maxValue = n } }

// New returns a Renderer. colorize forces ANSI colors on or off,
// regardless of the terminal.
func New(w io.Writer, colorize bool, opts ...Option) *Renderer {
	r := &Renderer{
		w:        w,
		loc:      time.Local,
		maxValue: DefaultMaxValue,
		added:    color.New(color.FgGreen),
		removed:  color.New(color.FgRed),
		changed:  color.New(color.FgYellow),
		dim:      color.New(color.Faint),
	}
	for _, c := range []*color.Color{r.added, r.removed, r.changed, r.dim} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Batch writes every record of b.
func (r *Renderer) Batch(b change.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for _, rec := range b.Records {
		buf.WriteString(r.line(rec))
		buf.WriteByte('\n')
	}
	_, err := r.w.Write(buf.Bytes())
	return err
}

// Record formats a single record without a trailing newline.
func (r *Renderer) Record(rec change.Record) string {
	return r.line(rec)
}

func (r *Renderer) line(rec change.Record) string {
	ts := r.dim.Sprint(time.UnixMilli(rec.Timestamp).In(r.loc).Format("15:04:05.000"))
	key := rec.KeyString()

	switch {
	case rec.Action == change.ActionClear:
		return fmt.Sprintf("%s %s", ts, r.removed.Sprint("! cleared"))
	case rec.Action == change.ActionRemove:
		return fmt.Sprintf("%s %s %s (was %s)", ts, r.removed.Sprint("-"), key, r.quote(rec.OldValue))
	case rec.OldValue == nil:
		return fmt.Sprintf("%s %s %s = %s", ts, r.added.Sprint("+"), key, r.quote(rec.NewValue))
	default:
		return fmt.Sprintf("%s %s %s: %s", ts, r.changed.Sprint("~"), key, r.valueDiff(*rec.OldValue, deref(rec.NewValue)))
	}
}

// ValueDiff describes how old became new. Two JSON objects yield their
// RFC 7386 merge patch prefixed with "patch "; anything else yields an
// inline character diff with [-deleted-] and {+inserted+} runs.
func ValueDiff(old, new string) string {
	return New(io.Discard, false, WithMaxValue(0)).valueDiff(old, new)
}

func (r *Renderer) valueDiff(old, new string) string {
	if isObject(old) && isObject(new) {
		if patch, err := jsonpatch.CreateMergePatch([]byte(old), []byte(new)); err == nil {
			return r.changed.Sprint("patch ") + r.truncate(string(patch))
		}
	}

	dmp := diffpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(old, new, false))

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffpatch.DiffEqual:
			sb.WriteString(d.Text)
		case diffpatch.DiffDelete:
			sb.WriteString(r.removed.Sprint("[-" + d.Text + "-]"))
		case diffpatch.DiffInsert:
			sb.WriteString(r.added.Sprint("{+" + d.Text + "+}"))
		}
	}
	return sb.String()
}

func (r *Renderer) quote(s *string) string {
	if s == nil {
		return "null"
	}
	return strconv.Quote(r.truncate(*s))
}

func (r *Renderer) truncate(s string) string {
	if r.maxValue <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= r.maxValue {
		return s
	}
	return string(runes[:r.maxValue]) + "…"
}

func isObject(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
