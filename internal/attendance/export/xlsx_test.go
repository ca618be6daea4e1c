package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"rotaclock/internal/attendance/models"
	"rotaclock/internal/attendance/service"
)

func TestXLSX(t *testing.T) {
	in := time.Date(2025, 3, 3, 7, 0, 0, 0, time.UTC)
	out := in.Add(8 * time.Hour)
	total := 8.0
	report := &service.AttendanceReport{
		StudentID: "stu-1",
		From:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Records: []service.ReportRecord{
			{
				ClockRecord: &models.ClockRecord{
					ID: "rec-1", StudentID: "stu-1", RotationID: "rot-1", SiteID: "site-1",
					Date: "2025-03-03", ClockIn: &in, ClockOut: &out, TotalHours: &total,
					Status:   models.RecordClosed,
					Metadata: models.RecordMetadata{Facility: &models.Facility{Name: "General Hospital"}},
				},
				SealValid: true,
			},
			{
				ClockRecord: &models.ClockRecord{
					ID: "rec-2", StudentID: "stu-1", RotationID: "rot-1", SiteID: "site-1",
					Date: "2025-03-04", ClockIn: &in, Status: models.RecordOpen,
				},
			},
		},
		TotalHours: 8,
	}

	buf, err := XLSX(report)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, "Date", rows[0][0])
	assert.Equal(t, "2025-03-03", rows[1][0])
	assert.Equal(t, "8", rows[1][5])
	assert.Equal(t, "CLOSED", rows[1][6])
	assert.Contains(t, []string{"TRUE", "1"}, rows[1][7])
	assert.Equal(t, "General Hospital", rows[1][8])
	assert.Equal(t, "OPEN", rows[2][6])
	assert.Equal(t, "Total", rows[3][4])
	assert.Equal(t, "8", rows[3][5])
}

func TestFilename(t *testing.T) {
	report := &service.AttendanceReport{
		StudentID: "stu-1",
		From:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "attendance_stu-1_2025-03-01_2025-03-31.xlsx", Filename(report))

	assert.Equal(t, "attendance_stu-1_start_now.xlsx", Filename(&service.AttendanceReport{StudentID: "stu-1"}))
}
