package excel

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"erplite/backend/internal/domain"
)

const (
	stockSheet    = "Stock Levels"
	lowStockSheet = "Low Stock"
)

var stockLevelHeader = []any{"sku", "name", "category", "quantity", "reorder_level", "location"}

// WriteStockLevels renders the report as a workbook with one sheet for all
// levels and one for the low-stock subset. The stock sheet's header row uses
// the same column names ParseStockCount accepts for sku and location.
func WriteStockLevels(w io.Writer, report domain.StockLevelsReport) error {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", stockSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := file.NewSheet(lowStockSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	if err := writeLevels(file, stockSheet, report.StockLevels); err != nil {
		return err
	}
	if err := writeLevels(file, lowStockSheet, report.LowStock); err != nil {
		return err
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeLevels(file *excelize.File, sheet string, levels []domain.StockLevel) error {
	if err := file.SetSheetRow(sheet, "A1", &stockLevelHeader); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for i, level := range levels {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{level.SKU, level.Name, level.Category, level.Quantity, level.ReorderLevel, level.Location}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
