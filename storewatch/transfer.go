package storewatch

import (
	"github.com/hazyhaar/storewatch/storewatch/internal/transfer"
)

// Format is an export file format.
type Format = transfer.Format

// Export formats.
const (
	FormatJSON = transfer.FormatJSON
	FormatCSV  = transfer.FormatCSV
)

// ExportOptions tunes an export.
type ExportOptions = transfer.ExportOptions

// ImportOptions tunes an import.
type ImportOptions = transfer.ImportOptions

// ImportMode selects how an import treats existing content.
type ImportMode = transfer.Mode

// Import modes.
const (
	ImportMerge     = transfer.Merge
	ImportOverwrite = transfer.Overwrite
)

// ImportResult summarises an import.
type ImportResult = transfer.Result

// ParseFormat accepts "json" or "csv".
func ParseFormat(s string) (Format, error) {
	return transfer.ParseFormat(s)
}
