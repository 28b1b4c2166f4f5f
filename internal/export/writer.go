package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// rowWriter abstracts the output format so the paging loop does not care
// whether it is producing CSV or a spreadsheet.
type rowWriter interface {
	writeRow(values []string) error
	// flush pushes buffered rows toward the client. For spreadsheet output
	// this is a no-op; the workbook is written on close.
	flush() error
	close() error
}

type csvRowWriter struct {
	w *csv.Writer
}

func newCSVRowWriter(out io.Writer) *csvRowWriter {
	return &csvRowWriter{w: csv.NewWriter(out)}
}

func (c *csvRowWriter) writeRow(values []string) error {
	return c.w.Write(values)
}

func (c *csvRowWriter) flush() error {
	c.w.Flush()
	return c.w.Error()
}

func (c *csvRowWriter) close() error {
	return c.flush()
}

type xlsxRowWriter struct {
	f     *excelize.File
	sheet string
	row   int
	out   io.Writer
}

func newXLSXRowWriter(out io.Writer, sheet string) (*xlsxRowWriter, error) {
	f := excelize.NewFile()
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheet != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}
	return &xlsxRowWriter{f: f, sheet: sheet, row: 1, out: out}, nil
}

func (x *xlsxRowWriter) writeRow(values []string) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, x.row)
		if err != nil {
			return fmt.Errorf("cell coordinates: %w", err)
		}
		if err := x.f.SetCellValue(x.sheet, cell, v); err != nil {
			return fmt.Errorf("set cell value: %w", err)
		}
	}
	x.row++
	return nil
}

func (x *xlsxRowWriter) flush() error { return nil }

func (x *xlsxRowWriter) close() error {
	defer x.f.Close()
	if err := x.f.Write(x.out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
