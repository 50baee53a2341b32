// Package excel reads stock count sheets and writes stock level workbooks.
package excel

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"erplite/backend/internal/domain"
)

var headerAliases = map[string]string{
	"sku":              "sku",
	"product sku":      "sku",
	"code":             "sku",
	"item code":        "sku",
	"counted qty":      "counted_qty",
	"counted":          "counted_qty",
	"counted quantity": "counted_qty",
	"quantity":         "counted_qty",
	"qty":              "counted_qty",
	"location":         "location",
	"warehouse":        "location",
	"bin":              "location",
}

// ParseStockCount reads count lines from the first sheet. The header row must
// name a sku and a counted quantity column; location is optional. Rows with an
// empty sku are skipped.
func ParseStockCount(reader io.Reader) ([]domain.StockCountLine, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	for _, required := range []string{"sku", "counted_qty"} {
		if _, ok := colMap[required]; !ok {
			return nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	lines := make([]domain.StockCountLine, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		sku := strings.TrimSpace(readCell(cells, colMap["sku"]))
		if sku == "" {
			continue
		}

		qty, err := parseInt(readCell(cells, colMap["counted_qty"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid counted_qty: %w", index+1, err)
		}
		if qty < 0 {
			return nil, fmt.Errorf("row %d invalid counted_qty: must not be negative", index+1)
		}

		line := domain.StockCountLine{SKU: sku, CountedQty: qty}
		if idx, ok := colMap["location"]; ok {
			line.Location = strings.TrimSpace(readCell(cells, idx))
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return lines, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	return strings.Join(strings.Fields(value), " ")
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	asFloat, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.Mod(asFloat, 1) != 0 {
		return 0, fmt.Errorf("must be an integer")
	}
	return int(asFloat), nil
}
