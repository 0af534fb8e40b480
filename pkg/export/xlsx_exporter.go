package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXExporter renders a dataset as a single-sheet workbook: bold header
// row, frozen pane under it and column widths sized to the content.
type XLSXExporter struct{}

func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

func (e *XLSXExporter) Render(d Dataset) ([]byte, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	sheet := sanitizeSheetName(d.Title)
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(d.Columns))
	for i, col := range d.Columns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}

	for r, row := range d.Rows {
		cells := d.cells(row)
		values := make([]interface{}, len(cells))
		for i, cell := range cells {
			values[i] = cell
		}
		start, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r+2, err)
		}
		if err := f.SetSheetRow(sheet, start, &values); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", r+2, err)
		}
	}

	if err := e.styleSheet(f, sheet, d); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *XLSXExporter) styleSheet(f *excelize.File, sheet string, d Dataset) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"EEEEEE"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(d.Columns))
	if err != nil {
		return fmt.Errorf("last column: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}

	for i, col := range d.Columns {
		width := float64(len(col))
		for _, row := range d.Rows {
			if i < len(row) && float64(len(row[i])) > width {
				width = float64(len(row[i]))
			}
		}
		if width < 10 {
			width = 10
		}
		if width > 42 {
			width = 42
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("column %d: %w", i+1, err)
		}
		if err := f.SetColWidth(sheet, name, name, width+2); err != nil {
			return fmt.Errorf("column width %s: %w", name, err)
		}
	}

	err = f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
	if err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	return nil
}

var sheetNameReplacer = strings.NewReplacer(
	":", "-", "\\", "-", "/", "-",
	"?", "", "*", "", "[", "(", "]", ")",
)

// sanitizeSheetName keeps names within the 31 character sheet limit and
// strips characters the XLSX format rejects.
func sanitizeSheetName(name string) string {
	name = strings.TrimSpace(sheetNameReplacer.Replace(name))
	if len(name) > 31 {
		name = strings.TrimSpace(name[:31])
	}
	if name == "" {
		return "Report"
	}
	return name
}
