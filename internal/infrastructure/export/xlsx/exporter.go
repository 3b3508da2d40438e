package xlsx

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/safety-report-tracker/internal/core/domain"
)

const sheetName = "History"

var headers = []string{
	"Request ID",
	"Status",
	"Created At",
	"Title",
	"Risk Level",
	"Stages Done",
	"Image URL",
}

// Exporter renders report history as an XLSX workbook.
type Exporter struct{}

func New() *Exporter {
	return &Exporter{}
}

func (e *Exporter) Export(w io.Writer, entries []domain.HistoryEntry) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for idx, entry := range entries {
		row := idx + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		write(1, entry.RequestID)
		write(2, string(entry.Status))
		if entry.CreatedAt.IsZero() {
			write(3, "")
		} else {
			write(3, entry.CreatedAt.UTC().Format(time.RFC3339))
		}
		title, risk := "", ""
		if entry.FinalReport != nil {
			title = entry.FinalReport.Title
			risk = entry.FinalReport.RiskLevel()
		}
		write(4, title)
		write(5, risk)
		write(6, domain.DeriveStages(entry).Completed())
		write(7, entry.ImageURL)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "C", 22)
	_ = f.SetColWidth(sheetName, "D", "D", 40)
	_ = f.SetColWidth(sheetName, "E", "F", 14)
	_ = f.SetColWidth(sheetName, "G", "G", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
