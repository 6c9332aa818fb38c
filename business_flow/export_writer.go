package businessflow

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

const xlsxSheetName = "Events"

var xlsxColumnWidths = []float64{20, 15, 25, 25, 40, 30, 20, 15, 50, 15}

// EventWriter receives event chunks and produces one export file
type EventWriter interface {
	Write(events []Event) error
	// Close finalizes the file; the file is complete only when Close returns nil
	Close() error
	Rows() int64
	ContentType() string
}

// csvEventWriter streams rows straight to disk
type csvEventWriter struct {
	file *os.File
	w    *csv.Writer
	rows int64
}

func newCSVEventWriter(path string) (*csvEventWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(ExportColumns); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &csvEventWriter{file: f, w: w}, nil
}

func (c *csvEventWriter) Write(events []Event) error {
	for _, e := range events {
		if err := c.w.Write(e.Record()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	c.rows += int64(len(events))
	c.w.Flush()
	return c.w.Error()
}

func (c *csvEventWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return c.file.Close()
}

func (c *csvEventWriter) Rows() int64 { return c.rows }

func (c *csvEventWriter) ContentType() string { return "text/csv" }

// xlsxEventWriter uses the excelize stream writer and refuses exports above maxRows.
// Rows past the cap are still counted so the error reports the real size.
type xlsxEventWriter struct {
	path    string
	file    *excelize.File
	sw      *excelize.StreamWriter
	maxRows int64
	rows    int64
}

func newXLSXEventWriter(path string, maxRows int64) (*xlsxEventWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(xlsxSheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open stream writer: %w", err)
	}
	for i, width := range xlsxColumnWidths {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"E0E0E0"}},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	header := make([]any, len(ExportColumns))
	for i, name := range ExportColumns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: name}
	}
	if err := sw.SetRow("A1", header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}

	return &xlsxEventWriter{path: path, file: f, sw: sw, maxRows: maxRows}, nil
}

func (x *xlsxEventWriter) Write(events []Event) error {
	for _, e := range events {
		x.rows++
		if x.maxRows > 0 && x.rows > x.maxRows {
			continue
		}
		record := e.Record()
		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, int(x.rows)+1)
		if err != nil {
			return err
		}
		if err := x.sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write xlsx row: %w", err)
		}
	}
	return nil
}

func (x *xlsxEventWriter) Close() error {
	defer func() { _ = x.file.Close() }()
	if x.maxRows > 0 && x.rows > x.maxRows {
		return NewBusinessErrorf("XLSX_ROW_LIMIT",
			"XLSX export exceeds maximum of %d rows (got %d rows). Please use CSV format for large exports.",
			ErrXLSXRowLimit, x.maxRows, x.rows)
	}
	if err := x.sw.Flush(); err != nil {
		return fmt.Errorf("flush xlsx: %w", err)
	}
	if err := x.file.SaveAs(x.path); err != nil {
		return fmt.Errorf("save xlsx: %w", err)
	}
	return nil
}

func (x *xlsxEventWriter) Rows() int64 { return x.rows }

func (x *xlsxEventWriter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func newEventWriter(format, path string, xlsxMaxRows int64) (EventWriter, error) {
	switch format {
	case "csv":
		return newCSVEventWriter(path)
	case "xlsx":
		return newXLSXEventWriter(path, xlsxMaxRows)
	default:
		return nil, NewBusinessError("VALIDATION_ERROR", "Invalid format. Use csv or xlsx", ErrInvalidExportFormat)
	}
}
