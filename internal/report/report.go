// Package report renders attendance records as downloadable files.
package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
)

// Format is an export file format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ErrUnsupportedFormat is returned for formats other than csv and pdf.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseFormat maps a query value to a Format. Empty means CSV.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

// ContentType is the MIME type served for f.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Dataset is a table with a fixed header row.
type Dataset struct {
	Headers []string
	Rows    [][]string
}

var attendanceHeaders = []string{"ID", "Student ID", "Student Name", "Timestamp", "Status", "Class"}

// Attendance converts records into a Dataset, one row per record.
func Attendance(records []attendance.Record) Dataset {
	ds := Dataset{Headers: attendanceHeaders, Rows: make([][]string, 0, len(records))}
	for _, rec := range records {
		ds.Rows = append(ds.Rows, []string{
			strconv.FormatInt(rec.ID, 10),
			rec.StudentID,
			rec.StudentName,
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Status,
			rec.ClassName,
		})
	}
	return ds
}

// Filename names an export for the given date filter.
func Filename(f Format, date string) string {
	if date == "" {
		date = "all"
	}
	return fmt.Sprintf("attendance-%s.%s", date, f)
}

// Render encodes ds in format f. The title is only used by PDF.
func Render(f Format, ds Dataset, title string) ([]byte, error) {
	switch f {
	case FormatCSV:
		return renderCSV(ds)
	case FormatPDF:
		return renderPDF(ds, title)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}
