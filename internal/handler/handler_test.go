package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/apperror"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/auth"
)

var markedAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

type attendanceServiceMock struct {
	registerErr error
	markResult  attendance.MarkResult
	markErr     error
	students    []attendance.Student
	deleteErr   error
	deletedID   string
	records     []attendance.Record
	listErr     error
	listDate    string
	stats       attendance.Stats
}

func (m *attendanceServiceMock) Register(_ context.Context, in attendance.RegisterInput) (attendance.Student, error) {
	if m.registerErr != nil {
		return attendance.Student{}, m.registerErr
	}
	st := attendance.Student{ID: 7, StudentID: in.StudentID, Name: in.Name}
	if in.Email != "" {
		st.Email = &in.Email
	}
	return st, nil
}

func (m *attendanceServiceMock) Mark(context.Context, attendance.MarkInput) (attendance.MarkResult, error) {
	return m.markResult, m.markErr
}

func (m *attendanceServiceMock) ListStudents(context.Context) ([]attendance.Student, error) {
	return m.students, nil
}

func (m *attendanceServiceMock) DeleteStudent(_ context.Context, studentID string) error {
	m.deletedID = studentID
	return m.deleteErr
}

func (m *attendanceServiceMock) ListAttendance(_ context.Context, date string) ([]attendance.Record, error) {
	m.listDate = date
	return m.records, m.listErr
}

func (m *attendanceServiceMock) Stats(context.Context) (attendance.Stats, error) {
	return m.stats, nil
}

func newRouter(svc Service, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(svc, opts).Register(r)
	return r
}

func do(r http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r := newRouter(&attendanceServiceMock{}, Options{
		DBHealthy: func(context.Context) bool { return true },
		Now:       func() time.Time { return markedAt },
	})
	w := do(r, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "2024-03-01T09:30:00Z", body["timestamp"])
	assert.Equal(t, true, body["db"])
	assert.Equal(t, false, body["cache"])
}

func TestRegisterStudent(t *testing.T) {
	r := newRouter(&attendanceServiceMock{}, Options{})
	w := do(r, http.MethodPost, "/api/students/register", map[string]string{
		"student_id": "S1", "name": "Alice", "email": "a@example.com", "image": "x",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Student registered successfully", body["message"])
	student := body["student"].(map[string]any)
	assert.Equal(t, "S1", student["student_id"])
	assert.Equal(t, "a@example.com", student["email"])
	assert.EqualValues(t, 7, student["id"])
}

func TestRegisterStudentErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		msg  string
	}{
		{"duplicate", apperror.Clone(apperror.ErrConflict, "Student ID already exists"), http.StatusConflict, "Student ID already exists"},
		{"bad image", apperror.ErrInvalidImage, http.StatusBadRequest, "Invalid image data"},
		{"database", errors.New("connection reset"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&attendanceServiceMock{registerErr: tc.err}, Options{})
			w := do(r, http.MethodPost, "/api/students/register", map[string]string{"student_id": "S1"})
			assert.Equal(t, tc.want, w.Code)
			assert.Equal(t, tc.msg, decode(t, w)["error"])
		})
	}
}

func TestRegisterStudentMalformedBody(t *testing.T) {
	r := newRouter(&attendanceServiceMock{}, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/students/register", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkAttendanceOutcomes(t *testing.T) {
	entry := &attendance.GalleryEntry{StudentID: "S1", Name: "Alice"}
	rec := &attendance.Record{ID: 1, StudentID: "S1", Timestamp: markedAt, Status: attendance.StatusPresent, ClassName: "Math"}

	cases := []struct {
		name   string
		result attendance.MarkResult
		want   int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "no students",
			result: attendance.MarkResult{Outcome: attendance.OutcomeNoStudents, Threshold: 0.3},
			want:   http.StatusNotFound,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "No students registered in the system", body["error"])
				assert.EqualValues(t, 0, body["total_students"])
			},
		},
		{
			name:   "no match",
			result: attendance.MarkResult{Outcome: attendance.OutcomeNoMatch, Threshold: 0.3, Confidence: 54.69, Checked: 3},
			want:   http.StatusNotFound,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "No matching student found", body["error"])
				assert.Equal(t, "70.0%", body["threshold"])
				assert.EqualValues(t, 54.69, body["confidence"])
				assert.EqualValues(t, 3, body["total_students_checked"])
			},
		},
		{
			name:   "marked",
			result: attendance.MarkResult{Outcome: attendance.OutcomeMarked, Student: entry, Record: rec, Confidence: 100},
			want:   http.StatusCreated,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Attendance marked successfully", body["message"])
				assert.Equal(t, "Alice", body["student"].(map[string]any)["name"])
				att := body["attendance"].(map[string]any)
				assert.Equal(t, "2024-03-01T09:30:00Z", att["timestamp"])
				assert.Equal(t, "Math", att["class_name"])
			},
		},
		{
			name:   "already marked",
			result: attendance.MarkResult{Outcome: attendance.OutcomeDuplicate, Student: entry, Record: rec, Confidence: 98.44},
			want:   http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Attendance already marked today", body["message"])
				assert.Equal(t, "Present", body["attendance"].(map[string]any)["status"])
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&attendanceServiceMock{markResult: tc.result}, Options{})
			w := do(r, http.MethodPost, "/api/attendance/mark", map[string]string{"image": "x"})
			require.Equal(t, tc.want, w.Code)
			tc.check(t, decode(t, w))
		})
	}
}

func TestMarkAttendanceInvalidImage(t *testing.T) {
	r := newRouter(&attendanceServiceMock{markErr: apperror.ErrInvalidImage}, Options{})
	w := do(r, http.MethodPost, "/api/attendance/mark", map[string]string{"image": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid image data", decode(t, w)["error"])
}

func TestListStudents(t *testing.T) {
	svc := &attendanceServiceMock{students: []attendance.Student{{ID: 1, StudentID: "S1", Name: "Alice", ImageHash: "ffff"}}}
	r := newRouter(svc, Options{})
	w := do(r, http.MethodGet, "/api/students", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "ffff")
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "S1", out[0]["student_id"])
}

func TestDeleteStudent(t *testing.T) {
	svc := &attendanceServiceMock{}
	r := newRouter(svc, Options{})
	w := do(r, http.MethodDelete, "/api/students/S1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "S1", svc.deletedID)
	assert.Equal(t, "Student deleted successfully", decode(t, w)["message"])

	svc.deleteErr = apperror.Clone(apperror.ErrNotFound, "Student not found")
	w = do(r, http.MethodDelete, "/api/students/S9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Student not found", decode(t, w)["error"])
}

func TestListAttendanceAndStats(t *testing.T) {
	svc := &attendanceServiceMock{
		records: []attendance.Record{{ID: 1, StudentID: "S1", StudentName: "Alice", Timestamp: markedAt, Status: "Present", ClassName: "Math"}},
		stats:   attendance.Stats{TotalStudents: 3, Present: 1, Absent: 2},
	}
	r := newRouter(svc, Options{})

	w := do(r, http.MethodGet, "/api/attendance?date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-03-01", svc.listDate)
	assert.Contains(t, w.Body.String(), `"student_name":"Alice"`)

	w = do(r, http.MethodGet, "/api/attendance/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_students":3,"present":1,"absent":2}`, w.Body.String())

	svc.listErr = apperror.Clone(apperror.ErrValidation, "Invalid date, expected YYYY-MM-DD")
	w = do(r, http.MethodGet, "/api/attendance?date=03/01/2024", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportAttendance(t *testing.T) {
	svc := &attendanceServiceMock{records: []attendance.Record{{ID: 1, StudentID: "S1", StudentName: "Alice", Timestamp: markedAt, Status: "Present", ClassName: "Math"}}}
	r := newRouter(svc, Options{})

	w := do(r, http.MethodGet, "/api/attendance/export?date=2024-03-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance-2024-03-01.csv")
	assert.Contains(t, w.Body.String(), "S1,Alice,2024-03-01T09:30:00Z,Present,Math")

	w = do(r, http.MethodGet, "/api/attendance/export?format=pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF-"))

	w = do(r, http.MethodGet, "/api/attendance/export?format=xlsx", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoutesListing(t *testing.T) {
	r := newRouter(&attendanceServiceMock{}, Options{})
	w := do(r, http.MethodGet, "/api/routes", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var routes []routeInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &routes))
	paths := make([]string, 0, len(routes))
	for _, ri := range routes {
		paths = append(paths, ri.Path)
		if ri.Path == "/api/attendance/stats" {
			assert.Equal(t, []string{http.MethodGet}, ri.Methods)
			assert.Equal(t, "stats", ri.Endpoint)
		}
		if ri.Path == "/api/routes" {
			assert.Equal(t, "routes", ri.Endpoint)
		}
	}
	assert.IsNonDecreasing(t, paths)
	assert.Contains(t, paths, "/api/students/:student_id")
	assert.NotContains(t, paths, "/api/devices/token")
}

func TestDeviceAuthGuardsMutations(t *testing.T) {
	tokens := auth.NewTokens("attendance-api", "secret", "enroll-me", time.Minute, time.Hour)
	svc := &attendanceServiceMock{markResult: attendance.MarkResult{Outcome: attendance.OutcomeNoStudents}}
	r := newRouter(svc, Options{Tokens: tokens})

	w := do(r, http.MethodPost, "/api/attendance/mark", map[string]string{"image": "x"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/students", nil)
	assert.Equal(t, http.StatusOK, w.Code, "reads stay open")

	w = do(r, http.MethodPost, "/api/devices/token", map[string]string{"device_id": "kiosk-1", "enrollment_key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/devices/token", map[string]string{"device_id": "kiosk-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/devices/token", map[string]string{"device_id": "kiosk-1", "enrollment_key": "enroll-me"})
	require.Equal(t, http.StatusCreated, w.Code)
	token, _ := decode(t, w)["access_token"].(string)
	require.NotEmpty(t, token)

	w = do(r, http.MethodPost, "/api/attendance/mark", map[string]string{"image": "x"}, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMutatingRoutesCarryAuthOnlyWhenEnabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	chain := func(opts Options) []string {
		var names []string
		r := gin.New()
		r.Use(func(c *gin.Context) { names = c.HandlerNames() })
		New(&attendanceServiceMock{}, opts).Register(r)
		do(r, http.MethodDelete, "/api/students/S1", nil)
		return names
	}

	open := chain(Options{})
	require.Len(t, open, 2, "recorder plus the handler, nothing in between: %v", open)
	assert.True(t, strings.HasSuffix(open[1], ".deleteStudent-fm"))

	guarded := chain(Options{Tokens: auth.NewTokens("attendance-api", "secret", "enroll-me", time.Minute, time.Hour)})
	require.Len(t, guarded, 3, "%v", guarded)
	assert.Contains(t, guarded[1], "/internal/auth.DeviceAuth")
}

func TestRequestBodyTooLarge(t *testing.T) {
	r := newRouter(&attendanceServiceMock{}, Options{MaxBodyBytes: 64})
	w := do(r, http.MethodPost, "/api/attendance/mark", map[string]string{"image": strings.Repeat("A", 128)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "Request body too large", decode(t, w)["error"])

	w = do(r, http.MethodPost, "/api/students/register", map[string]string{"student_id": "S1"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRefreshDeviceToken(t *testing.T) {
	tokens := auth.NewTokens("attendance-api", "secret", "enroll-me", time.Minute, time.Hour)
	svc := &attendanceServiceMock{markResult: attendance.MarkResult{Outcome: attendance.OutcomeNoStudents}}
	r := newRouter(svc, Options{Tokens: tokens})

	w := do(r, http.MethodPost, "/api/devices/token", map[string]string{"device_id": "kiosk-1", "enrollment_key": "enroll-me"})
	require.Equal(t, http.StatusCreated, w.Code)
	enrolled := decode(t, w)
	refresh, _ := enrolled["refresh_token"].(string)
	access, _ := enrolled["access_token"].(string)

	w = do(r, http.MethodPost, "/api/attendance/mark", map[string]string{"image": "x"}, "Authorization", "Bearer "+refresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "refresh tokens do not authorize requests")

	w = do(r, http.MethodPost, "/api/devices/refresh", map[string]string{"refresh_token": access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/devices/refresh", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "kiosk-1", body["device_id"])
	next, _ := body["access_token"].(string)

	w = do(r, http.MethodPost, "/api/attendance/mark", map[string]string{"image": "x"}, "Authorization", "Bearer "+next)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
