package receipt

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{
	"Item ID", "Receipt Group ID", "Brand", "Model", "Location", "Users",
	"Project", "Shop", "Purchase Date", "Documentation", "Guarantee Duration",
	"Guarantee Unit", "Guarantee End Date", "Receipt Filename", "Receipt Path",
}

// exportRows flattens every item joined with its receipt
func exportRows(doc *Document) [][]any {
	rows := make([][]any, 0, len(doc.Items))
	for _, it := range doc.Items {
		r, ok := doc.Receipt(it.GroupID)
		if !ok {
			r = &Receipt{}
		}
		rows = append(rows, []any{
			it.ID, it.GroupID, it.Brand, it.Model, it.Location,
			strings.Join(it.Users, ";"), it.Project,
			r.Shop, r.PurchaseDate, r.Documentation,
			it.GuaranteeDuration, it.GuaranteeUnit, it.GuaranteeEndDate,
			r.Filename, it.RelativePath,
		})
	}
	return rows
}

// ExportJSON serializes the current document verbatim
func (s *Service) ExportJSON() ([]byte, error) {
	return encodeDocument(s.store.Snapshot())
}

// ExportCSV writes one row per item
func (s *Service) ExportCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeaders); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range exportRows(s.store.Snapshot()) {
		record := make([]string, len(row))
		for i, v := range row {
			switch v := v.(type) {
			case int:
				record[i] = strconv.Itoa(v)
			default:
				record[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportXLSX writes the CSV rows into a spreadsheet
func (s *Service) ExportXLSX() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Items"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("removing default sheet: %w", err)
	}

	write := func(col, row int, v any) error {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		return f.SetCellValue(sheet, cell, v)
	}

	for i, h := range exportHeaders {
		if err := write(i+1, 1, h); err != nil {
			return nil, fmt.Errorf("writing xlsx header: %w", err)
		}
	}
	for r, row := range exportRows(s.store.Snapshot()) {
		for c, v := range row {
			if err := write(c+1, r+2, v); err != nil {
				return nil, fmt.Errorf("writing xlsx row: %w", err)
			}
		}
	}

	_ = f.SetColWidth(sheet, "C", "G", 20)
	_ = f.SetColWidth(sheet, "H", "J", 18)
	_ = f.SetColWidth(sheet, "N", "O", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
