package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const catalogCSV = `product_id,uom_id,name,aliases,barcode,catalog_code,uom,conversion_ratio,fee_type
P-BANANA,U-EA,Organic Bananas,Bananas|ORG BANANAS,,,each,4.0,
P-WHIP,U-QT,Heavy  Whip,,012345678905,,,,
P-SOAP,U-EA,Dish Soap,,,A1234,,,
FEE-BAG,U-EA,Bag Fee,,,,,,BAG
`

func TestParser_Parse(t *testing.T) {
	t.Run("parses standard CSV", func(t *testing.T) {
		result, err := NewParser(DefaultConfig()).Parse(strings.NewReader(catalogCSV))

		require.NoError(t, err)
		assert.Equal(t, 4, result.TotalRows)
		assert.Equal(t, 4, result.ParsedRows)
		assert.Empty(t, result.Errors)

		banana := result.Entries[0]
		assert.Equal(t, "P-BANANA", banana.ProductID)
		assert.Equal(t, "U-EA", banana.UoMID)
		assert.Equal(t, []string{"Bananas", "ORG BANANAS"}, banana.Aliases)
		assert.True(t, banana.ConversionRatio.Equal(decimal.NewFromInt(4)))

		whip := result.Entries[1]
		assert.Equal(t, "Heavy Whip", whip.Name)
		assert.Equal(t, "012345678905", whip.Barcode)
		assert.True(t, whip.ConversionRatio.IsZero())
		assert.Nil(t, whip.Aliases)

		assert.Equal(t, "A1234", result.Entries[2].CatalogCode)
		assert.Equal(t, "bag", result.Entries[3].FeeType)
	})

	t.Run("collects row errors", func(t *testing.T) {
		csv := `product_id,name,conversion_ratio
,Orphan,
P-1,,
P-2,Bad Ratio,four
P-3,Negative,-2
P-4,Good,0.5
,,
`
		result, err := NewParser(DefaultConfig()).Parse(strings.NewReader(csv))

		require.NoError(t, err)
		assert.Equal(t, 6, result.TotalRows)
		assert.Equal(t, 1, result.ParsedRows)
		assert.Equal(t, 1, result.SkippedRows)
		require.Len(t, result.Errors, 4)

		assert.Equal(t, ParseError{Row: 2, Column: "product_id", Message: "missing product id"}, result.Errors[0])
		assert.Equal(t, "name", result.Errors[1].Column)
		assert.Equal(t, 4, result.Errors[2].Row)
		assert.Contains(t, result.Errors[2].Message, "invalid conversion ratio")
		assert.Equal(t, "four", result.Errors[2].RawData)
		assert.Equal(t, "conversion ratio must be positive", result.Errors[3].Message)
		assert.Equal(t, "row 5, column conversion_ratio: conversion ratio must be positive", result.Errors[3].Error())
	})

	t.Run("custom delimiter and skipped lines", func(t *testing.T) {
		csv := "exported 2026-03-01\nvendor RD\nproduct_id;name;aliases;conversion_ratio\nP-1;Roma Tomatoes;Tomatoes / Roma;2,5\n"

		config := DefaultConfig()
		config.Delimiter = ';'
		config.SkipLines = 2
		config.AliasSeparator = "/"

		result, err := NewParser(config).Parse(strings.NewReader(csv))

		require.NoError(t, err)
		require.Len(t, result.Entries, 1)
		assert.Equal(t, []string{"Tomatoes", "Roma"}, result.Entries[0].Aliases)
		assert.True(t, result.Entries[0].ConversionRatio.Equal(decimal.RequireFromString("2.5")))
	})

	t.Run("malformed CSV", func(t *testing.T) {
		_, err := NewParser(DefaultConfig()).Parse(strings.NewReader(""))
		assert.Error(t, err)
	})
}

func TestParseResult_Catalog(t *testing.T) {
	result, err := NewParser(DefaultConfig()).Parse(strings.NewReader(catalogCSV))
	require.NoError(t, err)

	catalog, err := result.Catalog()
	require.NoError(t, err)
	defer catalog.Close()
	assert.Equal(t, 4, catalog.Len())

	_, err = (&ParseResult{}).Catalog()
	assert.ErrorIs(t, err, ErrNoEntries)
}

// ============================================================================
// Excel
// ============================================================================

func catalogWorkbook(t *testing.T, sheet string, rows ...[]any) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	if sheet != "Sheet1" {
		require.NoError(t, f.SetSheetName("Sheet1", sheet))
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	return f
}

func TestExcelParser_Parse(t *testing.T) {
	t.Run("maps headers and rows", func(t *testing.T) {
		f := catalogWorkbook(t, "Products",
			[]any{"SKU", "Product Name", "UPC", "Unit", "Ratio", "Aliases"},
			[]any{"P-BANANA", "Organic Bananas", "", "each", "4", "Bananas"},
			[]any{"P-WHIP", "Heavy Whip", "012345678905", "", "", ""},
			[]any{"P-BAD", "Bad", "", "", "x", ""},
		)
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)

		result, err := NewExcelParser(DefaultConfig()).Parse(bytes.NewReader(buf.Bytes()))

		require.NoError(t, err)
		assert.Equal(t, 2, result.ParsedRows)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, 4, result.Errors[0].Row)

		banana := result.Entries[0]
		assert.Equal(t, "P-BANANA", banana.ProductID)
		assert.Equal(t, "each", banana.UoM)
		assert.Equal(t, []string{"Bananas"}, banana.Aliases)
		assert.True(t, banana.ConversionRatio.Equal(decimal.NewFromInt(4)))
		assert.Equal(t, "012345678905", result.Entries[1].Barcode)
	})

	t.Run("configured sheet", func(t *testing.T) {
		f := catalogWorkbook(t, "Sheet1", []any{"product_id", "name"}, []any{"P-1", "Dish Soap"})
		_, err := f.NewSheet("Catalog")
		require.NoError(t, err)
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)

		config := DefaultConfig()
		config.Sheet = "Missing"
		_, err = NewExcelParser(config).Parse(bytes.NewReader(buf.Bytes()))
		assert.ErrorIs(t, err, ErrNoSheet)

		config.Sheet = "sheet1"
		result, err := NewExcelParser(config).Parse(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 1, result.ParsedRows)
	})

	t.Run("header without required columns", func(t *testing.T) {
		f := catalogWorkbook(t, "Sheet1", []any{"foo", "bar"}, []any{"1", "2"})
		buf, err := f.WriteToBuffer()
		require.NoError(t, err)

		_, err = NewExcelParser(DefaultConfig()).Parse(bytes.NewReader(buf.Bytes()))
		assert.Error(t, err)
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := NewExcelParser(DefaultConfig()).Parse(strings.NewReader("not a zip"))
		assert.Error(t, err)
	})
}

func TestMapColumns(t *testing.T) {
	cm := mapColumns([]string{" Product ID ", "NAME", "uom", "uom_id", "Item Number", "fee_type"})

	assert.Equal(t, 0, cm.productID)
	assert.Equal(t, 1, cm.name)
	assert.Equal(t, 2, cm.uom)
	assert.Equal(t, 3, cm.uomID)
	assert.Equal(t, 4, cm.catalogCode)
	assert.Equal(t, 5, cm.feeType)
	assert.Equal(t, -1, cm.barcode)
}

// ============================================================================
// Files
// ============================================================================

func TestLoadCatalogFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("csv", func(t *testing.T) {
		path := filepath.Join(dir, "catalog.csv")
		require.NoError(t, os.WriteFile(path, []byte(catalogCSV), 0o600))

		catalog, err := LoadCatalogFile(path, DefaultConfig(), nil)
		require.NoError(t, err)
		defer catalog.Close()
		assert.Equal(t, 4, catalog.Len())
	})

	t.Run("xlsx", func(t *testing.T) {
		path := filepath.Join(dir, "catalog.xlsx")
		f := catalogWorkbook(t, "Catalog", []any{"product_id", "name"}, []any{"P-1", "Dish Soap"})
		require.NoError(t, f.SaveAs(path))

		catalog, err := LoadCatalogFile(path, DefaultConfig(), nil)
		require.NoError(t, err)
		defer catalog.Close()
		assert.Equal(t, 1, catalog.Len())
	})

	t.Run("only bad rows", func(t *testing.T) {
		path := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(path, []byte("product_id,name\n,Orphan\n"), 0o600))

		_, err := LoadCatalogFile(path, DefaultConfig(), nil)
		assert.ErrorIs(t, err, ErrNoEntries)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := filepath.Join(dir, "catalog.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

		_, err := ParseFile(path, DefaultConfig())
		assert.ErrorContains(t, err, "unsupported catalog format")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ParseFile(filepath.Join(dir, "nope.csv"), DefaultConfig())
		assert.Error(t, err)
	})
}

func BenchmarkParser_Parse(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("product_id,uom_id,name,aliases,barcode,catalog_code,uom,conversion_ratio,fee_type\n")
	for i := 0; i < 10000; i++ {
		sb.WriteString(fmt.Sprintf("P-%d,U-EA,Product %d description,Alias %d|Other %d,%012d,,each,%d.5,\n", i, i, i, i, i, i%8+1))
	}
	csvData := sb.String()
	parser := NewParser(DefaultConfig())

	b.ReportAllocs()
	for b.Loop() {
		_, _ = parser.Parse(strings.NewReader(csvData))
	}
}
