package excel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"erplite/backend/internal/domain"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	file := excelize.NewFile()
	defer file.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := file.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestParseStockCountHeaderAliases(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Product SKU", "Counted_Qty", "Warehouse"},
		{"LAP-001", 12, "main"},
		{"", 4, "main"},
		{"MON-024", "1,000", ""},
	})

	lines, err := ParseStockCount(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != (domain.StockCountLine{SKU: "LAP-001", CountedQty: 12, Location: "main"}) {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].SKU != "MON-024" || lines[1].CountedQty != 1000 {
		t.Fatalf("unexpected second line %+v", lines[1])
	}
}

func TestParseStockCountRejectsBadSheets(t *testing.T) {
	cases := []struct {
		name string
		rows [][]any
		want string
	}{
		{"missing qty column", [][]any{{"sku", "name"}, {"A", "x"}}, "missing required column: counted_qty"},
		{"fractional qty", [][]any{{"sku", "qty"}, {"A", "1.5"}}, "row 2 invalid counted_qty"},
		{"negative qty", [][]any{{"sku", "qty"}, {"A", -3}}, "must not be negative"},
		{"no data rows", [][]any{{"sku", "qty"}}, "no valid data rows"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseStockCount(workbook(t, tc.rows))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestWriteStockLevelsRoundTripsThroughParser(t *testing.T) {
	report := domain.StockLevelsReport{
		StockLevels: []domain.StockLevel{
			{SKU: "LAP-001", Name: "Laptop", Category: "Electronics", Quantity: 40, ReorderLevel: 10, Location: "main"},
			{SKU: "TNR-BLK", Name: "Toner", Category: "Supplies", Quantity: 3, ReorderLevel: 10},
		},
		LowStock: []domain.StockLevel{
			{SKU: "TNR-BLK", Name: "Toner", Category: "Supplies", Quantity: 3, ReorderLevel: 10},
		},
	}

	var buf bytes.Buffer
	if err := WriteStockLevels(&buf, report); err != nil {
		t.Fatalf("write: %v", err)
	}

	file, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	if sheets := file.GetSheetList(); len(sheets) != 2 || sheets[0] != stockSheet || sheets[1] != lowStockSheet {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	low, err := file.GetRows(lowStockSheet)
	if err != nil {
		t.Fatalf("low stock rows: %v", err)
	}
	if len(low) != 2 || low[1][0] != "TNR-BLK" {
		t.Fatalf("unexpected low stock rows %v", low)
	}

	lines, err := ParseStockCount(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("parse exported workbook: %v", err)
	}
	if len(lines) != 2 || lines[0].CountedQty != 40 || lines[0].Location != "main" {
		t.Fatalf("unexpected parsed lines %+v", lines)
	}
}
