// Package parser reads product catalog tables for the matcher. CSV files are
// unmarshaled with gocsv by header name; XLSX workbooks go through excelize.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/receipt-normalizer/internal/domain/matching"
)

// ErrNoEntries is returned when a table yields no usable catalog entries
var ErrNoEntries = errors.New("catalog table has no usable rows")

// CatalogRow is one raw row. gocsv matches the tags against the header line.
type CatalogRow struct {
	ProductID       string `csv:"product_id"`
	UoMID           string `csv:"uom_id"`
	Name            string `csv:"name"`
	Aliases         string `csv:"aliases"`
	Barcode         string `csv:"barcode"`
	CatalogCode     string `csv:"catalog_code"`
	UoM             string `csv:"uom"`
	ConversionRatio string `csv:"conversion_ratio"`
	FeeType         string `csv:"fee_type"`
}

func (r CatalogRow) blank() bool {
	return strings.TrimSpace(r.ProductID+r.UoMID+r.Name+r.Aliases+r.Barcode+
		r.CatalogCode+r.UoM+r.ConversionRatio+r.FeeType) == ""
}

// ParseError represents a problem with a specific row
type ParseError struct {
	Row     int
	Column  string
	Message string
	RawData string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("row %d, column %s: %s", e.Row, e.Column, e.Message)
}

// ParseResult contains the entries read from a table. Bad rows are collected
// in Errors and do not stop the parse.
type ParseResult struct {
	Entries     []matching.Entry
	Errors      []ParseError
	TotalRows   int
	ParsedRows  int
	SkippedRows int
}

// Catalog builds a matcher catalog from the parsed entries
func (r *ParseResult) Catalog() (*matching.Catalog, error) {
	if len(r.Entries) == 0 {
		return nil, ErrNoEntries
	}
	return matching.NewCatalog(r.Entries)
}

// ParserConfig configures the table readers
type ParserConfig struct {
	Delimiter      rune   // CSV delimiter (default: comma)
	SkipLines      int    // Lines to skip before headers
	AliasSeparator string // Separator inside the aliases cell (default: "|")
	Sheet          string // XLSX sheet name (default: auto-detect)
}

// DefaultConfig returns a parser config with sensible defaults
func DefaultConfig() ParserConfig {
	return ParserConfig{
		Delimiter:      ',',
		AliasSeparator: "|",
	}
}

// Parser reads catalog CSV files
type Parser struct {
	config ParserConfig
}

// NewParser creates a new parser with the given configuration
func NewParser(config ParserConfig) *Parser {
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if config.AliasSeparator == "" {
		config.AliasSeparator = "|"
	}
	return &Parser{config: config}
}

// Parse reads all catalog rows from a CSV reader
func (p *Parser) Parse(reader io.Reader) (*ParseResult, error) {
	if p.config.SkipLines > 0 {
		reader = skipLines(reader, p.config.SkipLines)
	}

	r := csv.NewReader(reader)
	r.Comma = p.config.Delimiter
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	var rows []CatalogRow
	if err := gocsv.UnmarshalCSV(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse catalog CSV: %w", err)
	}

	result := &ParseResult{
		Entries:   make([]matching.Entry, 0, len(rows)),
		TotalRows: len(rows),
	}
	for i, row := range rows {
		rowNum := i + p.config.SkipLines + 2 // 1-indexed plus header
		result.add(p.processRow(row, rowNum))
	}
	return result, nil
}

func (r *ParseResult) add(entry *matching.Entry, perr *ParseError) {
	switch {
	case perr != nil:
		r.Errors = append(r.Errors, *perr)
	case entry == nil:
		r.SkippedRows++
	default:
		r.Entries = append(r.Entries, *entry)
		r.ParsedRows++
	}
}

// processRow validates a raw row. Blank rows are skipped.
func (p *Parser) processRow(row CatalogRow, rowNum int) (*matching.Entry, *ParseError) {
	if row.blank() {
		return nil, nil
	}

	productID := strings.TrimSpace(row.ProductID)
	if productID == "" {
		return nil, &ParseError{Row: rowNum, Column: "product_id", Message: "missing product id"}
	}
	name := cleanName(row.Name)
	if name == "" {
		return nil, &ParseError{Row: rowNum, Column: "name", Message: "missing name", RawData: productID}
	}

	var ratio decimal.Decimal
	if raw := strings.TrimSpace(row.ConversionRatio); raw != "" {
		var err error
		ratio, err = decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
		if err != nil {
			return nil, &ParseError{Row: rowNum, Column: "conversion_ratio", Message: fmt.Sprintf("invalid conversion ratio: %s", err.Error()), RawData: raw}
		}
		if !ratio.IsPositive() {
			return nil, &ParseError{Row: rowNum, Column: "conversion_ratio", Message: "conversion ratio must be positive", RawData: raw}
		}
	}

	return &matching.Entry{
		ProductID:       productID,
		UoMID:           strings.TrimSpace(row.UoMID),
		Name:            name,
		Aliases:         splitAliases(row.Aliases, p.config.AliasSeparator),
		Barcode:         strings.TrimSpace(row.Barcode),
		CatalogCode:     strings.TrimSpace(row.CatalogCode),
		UoM:             strings.TrimSpace(row.UoM),
		ConversionRatio: ratio,
		FeeType:         strings.ToLower(strings.TrimSpace(row.FeeType)),
	}, nil
}

func splitAliases(s, sep string) []string {
	var out []string
	for _, a := range strings.Split(s, sep) {
		if a = cleanName(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// cleanName trims and collapses whitespace
func cleanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// skipLines returns a reader that skips the first n lines
func skipLines(r io.Reader, n int) io.Reader {
	return &lineSkipper{reader: r, skip: n}
}

type lineSkipper struct {
	reader  io.Reader
	skip    int
	skipped bool
}

func (ls *lineSkipper) Read(p []byte) (int, error) {
	if !ls.skipped {
		buf := make([]byte, 1)
		lines := 0
		for lines < ls.skip {
			n, err := ls.reader.Read(buf)
			if err != nil {
				return 0, err
			}
			if n > 0 && buf[0] == '\n' {
				lines++
			}
		}
		ls.skipped = true
	}
	return ls.reader.Read(p)
}
