package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
)

func sampleRecords() []attendance.Record {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return []attendance.Record{
		{ID: 2, StudentID: "S2", StudentName: "Bob, Jr.", Timestamp: at.Add(time.Minute), Status: attendance.StatusPresent, ClassName: "Math"},
		{ID: 1, StudentID: "S1", StudentName: "Alice", Timestamp: at, Status: attendance.StatusPresent, ClassName: "Math"},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRenderCSV(t *testing.T) {
	out, err := Render(FormatCSV, Attendance(sampleRecords()), "")
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, attendanceHeaders, rows[0])
	assert.Equal(t, []string{"2", "S2", "Bob, Jr.", "2024-03-01T09:31:00Z", "Present", "Math"}, rows[1])
}

func TestRenderPDF(t *testing.T) {
	out, err := Render(FormatPDF, Attendance(sampleRecords()), "Attendance 2024-03-01")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	empty, err := Render(FormatPDF, Attendance(nil), "")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(empty, []byte("%PDF-")))
}

func TestRenderRequiresHeaders(t *testing.T) {
	_, err := Render(FormatCSV, Dataset{}, "")
	assert.Error(t, err)
	_, err = Render(FormatPDF, Dataset{}, "")
	assert.Error(t, err)
	_, err = Render(Format("xml"), Attendance(nil), "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "attendance-all.csv", Filename(FormatCSV, ""))
	assert.Equal(t, "attendance-2024-03-01.pdf", Filename(FormatPDF, "2024-03-01"))
}
