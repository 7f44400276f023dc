package parser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/matching"
)

// ParseFile reads a catalog table, choosing the reader by file extension
func ParseFile(path string, config ParserConfig) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".txt":
		return NewParser(config).Parse(f)
	case ".xlsx", ".xlsm":
		return NewExcelParser(config).Parse(f)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}
}

// LoadCatalogFile parses path and builds a catalog. Row errors are logged
// and skipped; a table with no usable rows is an error.
func LoadCatalogFile(path string, config ParserConfig, logger *slog.Logger) (*matching.Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	result, err := ParseFile(path, config)
	if err != nil {
		return nil, err
	}
	for _, perr := range result.Errors {
		logger.Warn("catalog row rejected",
			slog.String("path", path),
			slog.Int("row", perr.Row),
			slog.String("column", perr.Column),
			slog.String("error", perr.Message),
		)
	}

	catalog, err := result.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog from %s: %w", path, err)
	}
	logger.Info("catalog loaded",
		slog.String("path", path),
		slog.Int("entries", result.ParsedRows),
		slog.Int("rejected", len(result.Errors)),
	)
	return catalog, nil
}
