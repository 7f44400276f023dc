package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoSheet is returned for workbooks without a usable sheet
var ErrNoSheet = errors.New("no suitable sheet found")

// ExcelParser reads catalog XLSX workbooks
type ExcelParser struct {
	config ParserConfig
	csv    *Parser
}

// NewExcelParser creates a new Excel parser
func NewExcelParser(config ParserConfig) *ExcelParser {
	p := NewParser(config)
	return &ExcelParser{config: p.config, csv: p}
}

// Parse streams the catalog sheet row by row
func (p *ExcelParser) Parse(reader io.Reader) (*ParseResult, error) {
	f, err := excelize.OpenReader(reader, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheetName := p.findCatalogSheet(f)
	if sheetName == "" {
		return nil, ErrNoSheet
	}

	rows, err := f.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create row iterator for %s: %w", sheetName, err)
	}
	defer rows.Close()

	result := &ParseResult{}
	var cols columnMap
	haveHeader := false
	rowNum := 0

	for rows.Next() {
		rowNum++
		if rowNum <= p.config.SkipLines {
			continue
		}

		record, err := rows.Columns()
		if err != nil {
			result.Errors = append(result.Errors, ParseError{Row: rowNum, Message: err.Error()})
			continue
		}

		if !haveHeader {
			cols = mapColumns(record)
			if cols.productID < 0 || cols.name < 0 {
				return nil, fmt.Errorf("sheet %s: header needs product_id and name columns", sheetName)
			}
			haveHeader = true
			continue
		}

		result.TotalRows++
		result.add(p.csv.processRow(cols.row(record), rowNum))
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
	}

	return result, nil
}

// findCatalogSheet prefers a configured or catalog-like sheet name
func (p *ExcelParser) findCatalogSheet(f *excelize.File) string {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ""
	}

	preferred := []string{"catalog", "products", "items", "sheet1"}
	if p.config.Sheet != "" {
		preferred = []string{p.config.Sheet}
	}
	for _, name := range preferred {
		for _, sheet := range sheets {
			if strings.EqualFold(sheet, name) {
				return sheet
			}
		}
	}
	if p.config.Sheet != "" {
		return ""
	}
	return sheets[0]
}

type columnMap struct {
	productID, uomID, name, aliases, barcode, catalogCode, uom, ratio, feeType int
}

var headerNames = map[string][]string{
	"product_id":       {"product_id", "productid", "product", "sku"},
	"uom_id":           {"uom_id", "uomid"},
	"name":             {"name", "product_name", "description"},
	"aliases":          {"aliases", "alias"},
	"barcode":          {"barcode", "upc", "ean", "gtin"},
	"catalog_code":     {"catalog_code", "item_number", "item_no", "code"},
	"uom":              {"uom", "unit", "unit_of_measure"},
	"conversion_ratio": {"conversion_ratio", "ratio", "units_per"},
	"fee_type":         {"fee_type"},
}

// mapColumns finds column indices by header name. Headers are compared
// case-insensitively with spaces treated as underscores.
func mapColumns(headers []string) columnMap {
	cm := columnMap{-1, -1, -1, -1, -1, -1, -1, -1, -1}
	targets := map[string]*int{
		"product_id":       &cm.productID,
		"uom_id":           &cm.uomID,
		"name":             &cm.name,
		"aliases":          &cm.aliases,
		"barcode":          &cm.barcode,
		"catalog_code":     &cm.catalogCode,
		"uom":              &cm.uom,
		"conversion_ratio": &cm.ratio,
		"fee_type":         &cm.feeType,
	}

	for i, header := range headers {
		h := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(header)), " ", "_")
		for field, names := range headerNames {
			if *targets[field] >= 0 {
				continue
			}
			for _, n := range names {
				if h == n {
					*targets[field] = i
				}
			}
		}
	}
	return cm
}

func (cm columnMap) row(record []string) CatalogRow {
	get := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	return CatalogRow{
		ProductID:       get(cm.productID),
		UoMID:           get(cm.uomID),
		Name:            get(cm.name),
		Aliases:         get(cm.aliases),
		Barcode:         get(cm.barcode),
		CatalogCode:     get(cm.catalogCode),
		UoM:             get(cm.uom),
		ConversionRatio: get(cm.ratio),
		FeeType:         get(cm.feeType),
	}
}
