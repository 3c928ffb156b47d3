// Package transfer exports storage items to JSON or CSV and imports them
// back from JSON.
package transfer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hazyhaar/storewatch/storewatch/change"
	"github.com/hazyhaar/storewatch/storewatch/internal/stats"
	"github.com/hazyhaar/storewatch/storewatch/internal/valuetype"
)

// ExportVersion is the format version written in export metadata.
const ExportVersion = "1.1.0"

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV:
		return Format(s), nil
	}
	return "", fmt.Errorf("transfer: unknown format %q", s)
}

// ExportOptions tunes an export.
type ExportOptions struct {
	IncludeMetadata bool
	// Pretty indents JSON output. Ignored for CSV.
	Pretty bool
	Now    func() time.Time
}

func (o *ExportOptions) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Metadata describes an export.
type Metadata struct {
	ExportedAt  int64              `json:"exportedAt"` // epoch ms
	StorageType change.StorageType `json:"storageType"`
	TotalItems  int                `json:"totalItems"`
	TotalSize   int                `json:"totalSize"` // key and value bytes
	Version     string             `json:"version"`
}

// Document is the JSON export with metadata.
type Document struct {
	Metadata Metadata      `json:"metadata"`
	Items    []change.Item `json:"items"`
}

// TotalSize sums the UTF-8 sizes of every key and value.
func TotalSize(items []change.Item) int {
	n := 0
	for _, it := range items {
		n += len(it.Key) + len(it.Value)
	}
	return n
}

// Export renders items in format f.
func Export(f Format, items []change.Item, st change.StorageType, opts ExportOptions) ([]byte, error) {
	switch f {
	case FormatJSON:
		return ExportJSON(items, st, opts)
	case FormatCSV:
		return ExportCSV(items, st, opts)
	}
	return nil, fmt.Errorf("transfer: unknown format %q", f)
}

// ExportJSON renders items as a Document, or as a plain key to value
// object when metadata is not requested.
func ExportJSON(items []change.Item, st change.StorageType, opts ExportOptions) ([]byte, error) {
	var data any
	if opts.IncludeMetadata {
		if items == nil {
			items = []change.Item{}
		}
		data = Document{
			Metadata: Metadata{
				ExportedAt:  opts.now().UnixMilli(),
				StorageType: st,
				TotalItems:  len(items),
				TotalSize:   TotalSize(items),
				Version:     ExportVersion,
			},
			Items: items,
		}
	} else {
		obj := make(map[string]string, len(items))
		for _, it := range items {
			obj[it.Key] = it.Value
		}
		data = obj
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("transfer: encode json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ExportCSV renders items as UTF-8 CSV with a byte order mark, optional
// "#" metadata lines and the header Key,Value,Size (bytes),Type.
func ExportCSV(items []change.Item, st change.StorageType, opts ExportOptions) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("\ufeff")

	if opts.IncludeMetadata {
		fmt.Fprintf(&buf, "# Storage Type: %s\n", st)
		fmt.Fprintf(&buf, "# Exported At: %s\n", opts.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		fmt.Fprintf(&buf, "# Total Items: %d\n", len(items))
		fmt.Fprintf(&buf, "# Total Size: %d bytes\n", TotalSize(items))
		buf.WriteString("\n")
	}

	w := csv.NewWriter(&buf)
	w.Write([]string{"Key", "Value", "Size (bytes)", "Type"})
	for _, it := range items {
		w.Write([]string{
			it.Key,
			it.Value,
			strconv.Itoa(stats.Size(it.Value)),
			string(valuetype.Detect(it.Value)),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("transfer: write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename names an export of st taken at now.
func Filename(st change.StorageType, f Format, now time.Time) string {
	return fmt.Sprintf("storage-%s-%d.%s", st, now.UnixMilli(), f)
}

// ChangeLogFilename names a change log export taken at now.
func ChangeLogFilename(now time.Time) string {
	return fmt.Sprintf("storage-change-log-%d.json", now.UnixMilli())
}
