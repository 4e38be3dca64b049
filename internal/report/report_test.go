package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/MikeSquared-Agency/botprobe/internal/batch"
)

func sampleResults() []batch.Result {
	// Completion order differs from question order.
	return []batch.Result{
		{Index: 1, Question: "second", Answer: "TIMEOUT: no answer after 300 seconds", Status: batch.StatusTimeout, TotalResponseTime: 300},
		{
			Index:                  0,
			Question:               "first, with a comma",
			Answer:                 "Bordeaux leads.",
			Interpretation:         "sales by region",
			SQL:                    "SELECT region, SUM(x) FROM sales GROUP BY region",
			Insights:               "one\ntwo",
			APIResponseTime:        1.5,
			TotalResponseTime:      4.25,
			ComplexityLabel:        "Complex SQL",
			ComplexityLatency:      5,
			EstimatedFirstResponse: 6.5,
			Status:                 batch.StatusSuccess,
		},
	}
}

func TestWrite_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.csv")
	if err := Write(path, sampleResults()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != len(Columns) || rows[0][0] != "Question" || rows[0][13] != "Accuracy (1-5)" {
		t.Errorf("unexpected header %q", rows[0])
	}
	first := rows[1]
	if first[0] != "first, with a comma" || first[4] != "one\ntwo" {
		t.Errorf("first row not in index order or mangled: %q", first)
	}
	if first[5] != "1.50" || first[9] != "6.50" || first[10] != "success" {
		t.Errorf("unexpected numeric/status cells: %q", first)
	}
	for _, c := range first[11:] {
		if c != "" {
			t.Errorf("annotation columns must be blank, got %q", first[11:])
		}
	}
	if rows[2][10] != "timeout" {
		t.Errorf("second row status = %q", rows[2][10])
	}
}

func TestWrite_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := Write(path, sampleResults()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != len(Columns) {
		t.Errorf("header has %d columns", len(rows[0]))
	}
	if rows[1][0] != "first, with a comma" || rows[2][0] != "second" {
		t.Errorf("rows not ordered by index: %q / %q", rows[1][0], rows[2][0])
	}
	if got, _ := f.GetCellValue(SheetName, "K2"); got != "success" {
		t.Errorf("status cell = %q", got)
	}
	if got, _ := f.GetCellValue(SheetName, "L2"); got != "" {
		t.Errorf("difficulty cell should be blank, got %q", got)
	}
}

func TestWrite_UnsupportedExtension(t *testing.T) {
	if err := Write(filepath.Join(t.TempDir(), "report.json"), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestWrite_EmptyResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := Write(path, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected at least a header row")
	}
}
