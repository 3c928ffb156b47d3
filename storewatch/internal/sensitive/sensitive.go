// Package sensitive finds and masks personal data and secrets in storage
// values.
package sensitive

import (
	"sort"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Type is a kind of sensitive data.
type Type string

const (
	Phone       Type = "phone"
	IDCard      Type = "idCard"
	Email       Type = "email"
	Token       Type = "token"
	Password    Type = "password"
	CreditCard  Type = "creditCard"
	BankAccount Type = "bankAccount"
)

// Match is one occurrence of sensitive data. Start and End are byte
// offsets into the scanned text.
type Match struct {
	Type   Type   `json:"type"`
	Value  string `json:"value"`
	Masked string `json:"masked"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

const matchTimeout = 250 * time.Millisecond

type pattern struct {
	typ Type
	re  *regexp2.Regexp
}

// Detection patterns, applied in this order. Every pattern scans the
// whole text.
var patterns = []pattern{
	{Phone, mustCompile(`1[3-9]\d{9}`, 0)},
	{IDCard, mustCompile(`\d{17}[\dXx]`, 0)},
	{Email, mustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, 0)},
	{Token, mustCompile(`(?:Bearer\s+)?[A-Za-z0-9_-]{20,}`, 0)},
	{Password, mustCompile(`(?:password|pwd|pass|secret)`, regexp2.IgnoreCase)},
	{CreditCard, mustCompile(`\d{13,19}`, 0)},
	{BankAccount, mustCompile(`\d{10,20}`, 0)},
}

var (
	phoneMask  = mustCompile(`(\d{3})\d{4}(\d{4})`, 0)
	idCardMask = mustCompile(`(\d{3})\d{11}(\d{4})`, 0)
	cardMask   = mustCompile(`\d(?=\d{4})`, 0)
)

func mustCompile(expr string, opts regexp2.RegexOptions) *regexp2.Regexp {
	re := regexp2.MustCompile(expr, regexp2.ECMAScript|opts)
	re.MatchTimeout = matchTimeout
	return re
}

var sensitiveKeywords = []string{
	"password", "pwd", "pass", "secret", "token", "auth",
	"credential", "key", "apikey", "api_key", "access_token",
	"refresh_token", "session", "cookie",
}

// IsSensitiveKey reports whether a storage key name suggests a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Detect returns every match of every pattern, grouped by type in
// pattern order. Matches of different types may overlap.
func Detect(text string) []Match {
	if text == "" {
		return nil
	}
	offsets := byteOffsets(text)

	var out []Match
	for _, p := range patterns {
		m, err := p.re.FindStringMatch(text)
		for err == nil && m != nil {
			start, end := offsets[m.Index], offsets[m.Index+m.Length]
			value := text[start:end]
			out = append(out, Match{
				Type:   p.typ,
				Value:  value,
				Masked: Mask(value, p.typ),
				Start:  start,
				End:    end,
			})
			m, err = p.re.FindNextMatch(m)
		}
	}
	return out
}

// HasSensitive reports whether text contains any sensitive data.
func HasSensitive(text string) bool {
	for _, p := range patterns {
		if ok, err := p.re.MatchString(text); err == nil && ok {
			return true
		}
	}
	return false
}

// Mask hides value according to its type.
func Mask(value string, typ Type) string {
	switch typ {
	case Phone:
		return replaceOnce(phoneMask, value, "$1****$2")
	case IDCard:
		return replaceOnce(idCardMask, value, "$1***********$2")
	case Email:
		user, domain, _ := strings.Cut(value, "@")
		first := ""
		for _, r := range user {
			first = string(r)
			break
		}
		return first + "***@" + domain
	case Token:
		r := []rune(value)
		if len(r) <= 10 {
			return "***"
		}
		return string(r[:6]) + "..." + string(r[len(r)-4:])
	case Password:
		return "********"
	case CreditCard:
		out, err := cardMask.Replace(value, "*", -1, -1)
		if err != nil {
			return "***"
		}
		return out
	case BankAccount:
		r := []rune(value)
		if len(r) <= 4 {
			return value
		}
		return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
	default:
		return "***"
	}
}

// MaskValue replaces every sensitive match in text with its masked form.
// When matches overlap, the one starting first wins, then the longer one.
func MaskValue(text string) string {
	matches := Detect(text)
	if len(matches) == 0 {
		return text
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})
	kept := matches[:0]
	end := -1
	for _, m := range matches {
		if m.Start >= end {
			kept = append(kept, m)
			end = m.End
		}
	}

	for i := len(kept) - 1; i >= 0; i-- {
		m := kept[i]
		text = text[:m.Start] + m.Masked + text[m.End:]
	}
	return text
}

// MaskObject returns a copy of a decoded JSON value with sensitive keys
// hidden and sensitive data masked in every string.
func MaskObject(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if IsSensitiveKey(k) {
				out[k] = "********"
				continue
			}
			out[k] = MaskObject(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = MaskObject(child)
		}
		return out
	case string:
		return MaskValue(t)
	default:
		return v
	}
}

func replaceOnce(re *regexp2.Regexp, value, repl string) string {
	out, err := re.Replace(value, repl, -1, 1)
	if err != nil {
		return value
	}
	return out
}

// byteOffsets maps rune indexes, as reported by regexp2, to byte offsets.
func byteOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}
