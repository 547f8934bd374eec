// Package sheet exports the equipment registry to XLSX and CSV and parses
// spreadsheets back into equipment records for bulk import.
package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dukerupert/patrimonio/internal/model"
)

const (
	SheetName = "Equipamentos"

	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeCSV  = "text/csv; charset=utf-8"

	dateLayout     = "02/01/2006"
	dateTimeLayout = "02/01/2006 15:04"
)

// Headers is the column order used by both export formats.
var Headers = []string{
	"ID", "Nome", "Categoria", "Marca", "Status", "Setor", "Cargo",
	"Compartilhado", "Serie", "Aquisicao", "Valor", "Observacoes", "Atualizado em",
}

// Filename returns the download name for an export taken at t.
func Filename(ext string, t time.Time) string {
	return fmt.Sprintf("equipamentos_%s.%s", t.Format("20060102_150405"), ext)
}

func yesNo(b bool) string {
	if b {
		return "SIM"
	}
	return "NAO"
}

func record(e model.Equipment) []string {
	acquired := ""
	if e.AcquiredAt != nil {
		acquired = e.AcquiredAt.UTC().Format(dateLayout)
	}
	value := ""
	if e.AcquisitionValue != nil {
		value = strconv.FormatFloat(*e.AcquisitionValue, 'f', 2, 64)
	}
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.Name,
		e.Category,
		e.Brand,
		string(e.Status),
		e.Sector,
		e.JobRole,
		yesNo(e.Shared),
		e.SerialNumber,
		acquired,
		value,
		e.Notes,
		e.UpdatedAt.UTC().Format(dateTimeLayout),
	}
}

// WriteCSV writes items as CSV with a header row.
func WriteCSV(w io.Writer, items []model.Equipment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range items {
		if err := cw.Write(record(e)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes items as a single-sheet workbook with a bold header row.
func WriteXLSX(w io.Writer, items []model.Equipment) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := writeHeader(f, SheetName, Headers); err != nil {
		return err
	}

	for i, e := range items {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		rec := record(e)
		row := make([]any, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		// Numeric columns stay numeric so spreadsheets can sum them.
		row[0] = e.ID
		if e.AcquisitionValue != nil {
			row[10] = *e.AcquisitionValue
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	f.SetColWidth(SheetName, "B", "B", 30)
	f.SetColWidth(SheetName, "C", "G", 18)
	f.SetColWidth(SheetName, "L", "L", 40)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// writeHeader writes a bold, filled header row at A1.
func writeHeader(f *excelize.File, sheet string, headers []string) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	return nil
}
