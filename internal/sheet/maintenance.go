package sheet

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dukerupert/patrimonio/internal/model"
)

const MaintenanceSheetName = "Manutencoes"

var MaintenanceHeaders = []string{
	"ID", "Equipamento", "Setor", "Tipo", "Status", "Agendada", "Concluida",
	"Tecnico", "Custo estimado", "Custo real", "Descricao",
}

// MaintenanceFilename returns the download name for a maintenance report taken at t.
func MaintenanceFilename(t time.Time) string {
	return fmt.Sprintf("manutencoes_%s.xlsx", t.Format("20060102_150405"))
}

// WriteMaintenanceXLSX writes the report rows followed by a totals row.
func WriteMaintenanceXLSX(w io.Writer, report *model.MaintenanceReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", MaintenanceSheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeHeader(f, MaintenanceSheetName, MaintenanceHeaders); err != nil {
		return err
	}

	for i, r := range report.Items {
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.UTC().Format(dateLayout)
		}
		row := []any{
			r.ID, r.EquipmentName, r.EquipmentSector, r.Type, string(r.Status),
			r.ScheduledAt.UTC().Format(dateLayout), completed, r.Technician,
			costCell(r.EstimatedCost), costCell(r.ActualCost), r.Description,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(MaintenanceSheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	totals := []any{"Total", report.Total, "", "", fmt.Sprintf("%d concluidas", report.Done), "", "", "", "", report.TotalCost}
	cell, _ := excelize.CoordinatesToCellName(1, len(report.Items)+2)
	if err := f.SetSheetRow(MaintenanceSheetName, cell, &totals); err != nil {
		return fmt.Errorf("write totals: %w", err)
	}

	f.SetColWidth(MaintenanceSheetName, "B", "B", 30)
	f.SetColWidth(MaintenanceSheetName, "K", "K", 40)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func costCell(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
