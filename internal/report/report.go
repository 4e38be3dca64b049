// Package report writes the result table to a spreadsheet for human review.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

// SheetName is the worksheet used in .xlsx output.
const SheetName = "Results"

// Columns is the header row. The last three are left blank for reviewers.
var Columns = []string{
	"Question",
	"Answer",
	"Interpretation",
	"SQL",
	"Insights",
	"API Response Time (s)",
	"Total Response Time (s)",
	"SQL Complexity",
	"Complexity Latency (s)",
	"Estimated First Response (s)",
	"Status",
	"Difficulty (1-5)",
	"Pass/Fail",
	"Accuracy (1-5)",
}

var widths = map[string]float64{
	"A": 45, "B": 60, "C": 45, "D": 60, "E": 45,
	"H": 16, "K": 10, "L": 14, "M": 10, "N": 14,
}

// Write stores results at path, ordered by question index. The format follows
// the extension: .csv or .xlsx.
func Write(path string, results []batch.Result) error {
	rows := batch.SortByIndex(results)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return writeCSV(path, rows)
	case ".xlsx":
		return writeXLSX(path, rows)
	default:
		return fmt.Errorf("unsupported report format %q (want .csv or .xlsx)", ext)
	}
}

func record(r batch.Result) []string {
	return []string{
		r.Question,
		r.Answer,
		r.Interpretation,
		r.SQL,
		r.Insights,
		formatSeconds(r.APIResponseTime),
		formatSeconds(r.TotalResponseTime),
		r.ComplexityLabel,
		formatSeconds(r.ComplexityLatency),
		formatSeconds(r.EstimatedFirstResponse),
		string(r.Status),
		"", "", "",
	}
}

func formatSeconds(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func writeCSV(path string, rows []batch.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if err := w.Write(record(r)); err != nil {
			return fmt.Errorf("write row %d: %w", r.Index, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return f.Close()
}

func writeXLSX(path string, rows []batch.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			r.Question, r.Answer, r.Interpretation, r.SQL, r.Insights,
			r.APIResponseTime, r.TotalResponseTime,
			r.ComplexityLabel, r.ComplexityLatency, r.EstimatedFirstResponse,
			string(r.Status),
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", r.Index, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}
	for col, w := range widths {
		if err := f.SetColWidth(SheetName, col, col, w); err != nil {
			return fmt.Errorf("column width: %w", err)
		}
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
