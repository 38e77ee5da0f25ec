package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"github.com/krishan2005op/safe-track-go/internal/engine"
	"github.com/krishan2005op/safe-track-go/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	alertSheet = "Alerts"
	zoneSheet  = "Zones"
	timeLayout = "2006-01-02 15:04:05"
)

// AlertExportHeader is the column order of the Alerts sheet.
var AlertExportHeader = []string{
	"Alert ID",
	"Subject",
	"Zone ID",
	"Zone Name",
	"Severity",
	"State",
	"Version",
	"Created At",
	"Updated At",
	"Resolved At",
	"Resolution Reason",
}

// ZoneExportHeader is the column order of the Zones sheet.
var ZoneExportHeader = []string{
	"Zone ID",
	"Name",
	"Risk Level",
	"Active",
	"Occupants",
	"Active Alerts",
	"Density Tier",
	"Density Value",
}

// GenerateAlertExport builds an incident workbook: one row per alert plus the
// per-zone status from the summary.
func GenerateAlertExport(alerts []models.Alert, summary engine.Summary) ([]byte, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", alertSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(zoneSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FDE9D9"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	alertRows := make([][]interface{}, 0, len(alerts))
	for _, a := range alerts {
		resolvedAt := ""
		if a.ResolvedAt != nil {
			resolvedAt = formatTime(*a.ResolvedAt)
		}
		alertRows = append(alertRows, []interface{}{
			a.ID,
			a.SubjectID,
			a.ZoneID,
			a.ZoneName,
			string(a.Severity),
			string(a.State),
			a.Version,
			formatTime(a.CreatedAt),
			formatTime(a.UpdatedAt),
			resolvedAt,
			a.ResolutionReason,
		})
	}
	if err := writeSheet(f, alertSheet, AlertExportHeader, alertRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	zoneRows := make([][]interface{}, 0, len(summary.Zones))
	for _, z := range summary.Zones {
		var value interface{}
		if z.DensityValue != nil {
			value = *z.DensityValue
		}
		zoneRows = append(zoneRows, []interface{}{
			z.ZoneID,
			z.Name,
			string(z.RiskLevel),
			z.Active,
			z.Occupants,
			z.ActiveAlerts,
			string(z.DensityTier),
			value,
		})
	}
	if err := writeSheet(f, zoneSheet, ZoneExportHeader, zoneRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}, headerStyle int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, 20); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, row := range rows {
		for j, value := range row {
			if value == nil || value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s on %s: %w", cell, sheet, err)
			}
		}
	}

	// freeze the header row
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
