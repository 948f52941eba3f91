package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// Format names a report output format.
type Format string

// Report formats.
const (
	FormatJSON  Format = "json"
	FormatMD    Format = "md"
	FormatSARIF Format = "sarif"
	FormatAll   Format = "all"
)

// ParseFormat validates a --report-format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMD, FormatSARIF, FormatAll:
		return Format(s), nil
	default:
		return "", contracts.NewGovernanceError(contracts.ErrArgInvalid,
			"report format must be json, md, sarif or all").WithDetail("format", s)
	}
}

// MarshalJSON renders the report file content: 2-space indent plus a
// trailing newline.
func MarshalJSON(r *contracts.Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: marshal failed: %w", err)
	}
	return append(data, '\n'), nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

// replaceExt swaps the path's extension, defaulting to .json naming.
func replaceExt(path, ext string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return base + ext
}

// PlannedPaths returns the files Write will produce for path and format.
// "all" derives sibling .json/.md/.sarif paths from the report path.
func PlannedPaths(path string, format Format) []string {
	if format == FormatAll {
		return []string{
			replaceExt(path, ".json"),
			replaceExt(path, ".md"),
			replaceExt(path, ".sarif"),
		}
	}
	return []string{path}
}

func renderFor(r *contracts.Report, path string, format Format) ([]byte, error) {
	effective := format
	if format == FormatAll {
		switch filepath.Ext(path) {
		case ".md":
			effective = FormatMD
		case ".sarif":
			effective = FormatSARIF
		default:
			effective = FormatJSON
		}
	}
	switch effective {
	case FormatMD:
		return []byte(RenderMarkdown(r, false)), nil
	case FormatSARIF:
		data, err := RenderSARIF(r)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return MarshalJSON(r)
	}
}

// Write emits the report at path in the requested format(s), creating
// parent directories. It returns the list of files written.
func Write(r *contracts.Report, path string, format Format) ([]string, error) {
	var written []string
	for _, target := range PlannedPaths(path, format) {
		data, err := renderFor(r, target, format)
		if err != nil {
			return written, err
		}
		if err := writeFile(target, data); err != nil {
			return written, err
		}
		written = append(written, target)
	}
	return written, nil
}
