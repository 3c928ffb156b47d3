// Package search filters storage items by keyword, regular expression,
// JSON content, value type and size.
package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/stats"
	"github.com/hazyhaar/storewatch/storewatch/internal/valuetype"
)

// Scope selects what a keyword is matched against.
type Scope string

const (
	InKey   Scope = "key"
	InValue Scope = "value"
	InBoth  Scope = "both"
)

// RegexTimeout bounds a single regular expression match.
const RegexTimeout = 100 * time.Millisecond

// Options is a search query. A blank keyword matches everything.
type Options struct {
	Keyword       string `json:"keyword"`
	In            Scope  `json:"searchIn"`
	UseRegex      bool   `json:"useRegex"`
	CaseSensitive bool   `json:"caseSensitive"`
	// DeepSearch also matches the scalar leaves of JSON values.
	DeepSearch bool `json:"deepSearch"`
}

// Filter narrows items by type and value size. Zero fields match everything.
type Filter struct {
	Types   []valuetype.Type `json:"types"`
	MinSize *int             `json:"minSize,omitempty"`
	MaxSize *int             `json:"maxSize,omitempty"`
}

// Matcher is a compiled query.
type Matcher struct {
	opts   Options
	filter Filter
	re     *regexp2.Regexp
	kw     string
	// invalid is set when the regular expression does not compile; an
	// invalid pattern matches nothing.
	invalid bool
}

// Compile prepares opts and filter. Regular expressions use ECMAScript
// syntax. An invalid pattern is not an error: the matcher matches nothing
// and Err reports why.
func Compile(opts Options, filter Filter) (*Matcher, error) {
	if opts.In == "" {
		opts.In = InBoth
	}
	switch opts.In {
	case InKey, InValue, InBoth:
	default:
		return nil, fmt.Errorf("search: unknown scope %q", opts.In)
	}

	m := &Matcher{opts: opts, filter: filter, kw: opts.Keyword}
	if !opts.CaseSensitive {
		m.kw = strings.ToLower(m.kw)
	}
	if opts.UseRegex && strings.TrimSpace(opts.Keyword) != "" {
		ro := regexp2.RegexOptions(regexp2.ECMAScript)
		if !opts.CaseSensitive {
			ro |= regexp2.IgnoreCase
		}
		re, err := regexp2.Compile(opts.Keyword, ro)
		if err != nil {
			m.invalid = true
			return m, nil
		}
		re.MatchTimeout = RegexTimeout
		m.re = re
	}
	return m, nil
}

// Valid reports whether the query compiled. An invalid regex matches nothing.
func (m *Matcher) Valid() bool { return !m.invalid }

// Match reports whether it passes both the query and the filter.
func (m *Matcher) Match(it change.Item) bool {
	return m.matchQuery(it) && m.matchFilter(it)
}

// Apply returns the items matching opts and filter, in input order.
func Apply(items []change.Item, opts Options, filter Filter) ([]change.Item, error) {
	m, err := Compile(opts, filter)
	if err != nil {
		return nil, err
	}
	out := make([]change.Item, 0, len(items))
	for _, it := range items {
		if m.Match(it) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Matcher) matchQuery(it change.Item) bool {
	if strings.TrimSpace(m.opts.Keyword) == "" {
		return true
	}
	if m.invalid {
		return false
	}
	if m.re != nil {
		switch m.opts.In {
		case InKey:
			return m.regexMatch(it.Key)
		case InValue:
			return m.regexMatch(it.Value)
		default:
			return m.regexMatch(it.Key) || m.regexMatch(it.Value)
		}
	}

	if m.opts.DeepSearch && m.opts.In != InKey {
		var parsed any
		if json.Unmarshal([]byte(it.Value), &parsed) == nil && m.deepMatch(parsed) {
			return true
		}
	}

	switch m.opts.In {
	case InKey:
		return m.contains(it.Key)
	case InValue:
		return m.contains(it.Value)
	default:
		return m.contains(it.Key) || m.contains(it.Value)
	}
}

func (m *Matcher) regexMatch(s string) bool {
	ok, err := m.re.MatchString(s)
	return err == nil && ok
}

func (m *Matcher) contains(s string) bool {
	if !m.opts.CaseSensitive {
		s = strings.ToLower(s)
	}
	return strings.Contains(s, m.kw)
}

// deepMatch walks objects and arrays and matches scalar leaves. Object
// keys are not searched.
func (m *Matcher) deepMatch(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		for _, child := range t {
			if m.deepMatch(child) {
				return true
			}
		}
		return false
	case []any:
		for _, child := range t {
			if m.deepMatch(child) {
				return true
			}
		}
		return false
	case string:
		return m.contains(t)
	case float64:
		return m.contains(strconv.FormatFloat(t, 'f', -1, 64))
	case bool:
		return m.contains(strconv.FormatBool(t))
	default:
		return false
	}
}

func (m *Matcher) matchFilter(it change.Item) bool {
	f := m.filter
	if len(f.Types) > 0 {
		typ := valuetype.Detect(it.Value)
		found := false
		for _, want := range f.Types {
			if want == typ {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	size := stats.Size(it.Value)
	if f.MinSize != nil && size < *f.MinSize {
		return false
	}
	if f.MaxSize != nil && size > *f.MaxSize {
		return false
	}
	return true
}
