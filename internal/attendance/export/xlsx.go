// Package export renders attendance reports as spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"rotaclock/internal/attendance/service"
)

const (
	SheetName   = "Attendance"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var header = []any{
	"Date", "Site", "Rotation", "Clock In", "Clock Out", "Hours", "Status", "Seal Valid", "Facility", "Device", "Notes",
}

// Filename suggests a download name for a report.
func Filename(report *service.AttendanceReport) string {
	return fmt.Sprintf("attendance_%s_%s_%s.xlsx",
		report.StudentID, boundLabel(report.From, "start"), boundLabel(report.To, "now"))
}

func boundLabel(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return t.Format(time.DateOnly)
}

// XLSX writes one row per record followed by a total row.
func XLSX(report *service.AttendanceReport) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	row := 2
	for _, rec := range report.Records {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		values := []any{
			rec.Date,
			rec.SiteID,
			rec.RotationID,
			formatTime(rec.ClockIn),
			formatTime(rec.ClockOut),
			hours(rec.TotalHours),
			string(rec.Status),
			rec.SealValid,
			facilityName(rec),
			rec.Metadata.Device,
			rec.Notes,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}

	totalLabel, _ := excelize.CoordinatesToCellName(5, row)
	totalValue, _ := excelize.CoordinatesToCellName(6, row)
	if err := f.SetCellValue(SheetName, totalLabel, "Total"); err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}
	if err := f.SetCellValue(SheetName, totalValue, report.TotalHours); err != nil {
		return nil, fmt.Errorf("write total: %w", err)
	}
	if err := f.SetRowStyle(SheetName, row, row, bold); err != nil {
		return nil, fmt.Errorf("style total: %w", err)
	}
	if err := f.SetColWidth(SheetName, "A", "K", 18); err != nil {
		return nil, fmt.Errorf("set width: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04 MST")
}

func hours(h *float64) any {
	if h == nil {
		return ""
	}
	return *h
}

func facilityName(rec service.ReportRecord) string {
	if rec.Metadata.Facility == nil {
		return ""
	}
	return rec.Metadata.Facility.Name
}
