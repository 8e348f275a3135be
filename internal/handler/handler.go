// Package handler exposes the attendance service over HTTP+JSON.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/apperror"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/auth"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/httpmiddleware"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/report"
)

// Service is the attendance behaviour the handlers need.
type Service interface {
	Register(ctx context.Context, in attendance.RegisterInput) (attendance.Student, error)
	Mark(ctx context.Context, in attendance.MarkInput) (attendance.MarkResult, error)
	ListStudents(ctx context.Context) ([]attendance.Student, error)
	DeleteStudent(ctx context.Context, studentID string) error
	ListAttendance(ctx context.Context, date string) ([]attendance.Record, error)
	Stats(ctx context.Context) (attendance.Stats, error)
}

// HealthCheck reports whether a dependency answers.
type HealthCheck func(ctx context.Context) bool

// Options configure a Handler. Tokens nil leaves the API unauthenticated.
// MaxBodyBytes caps request bodies under /api; zero means no cap.
type Options struct {
	Logger       *zap.Logger
	Tokens       *auth.Tokens
	DBHealthy    HealthCheck
	CacheHealthy HealthCheck
	MaxBodyBytes int64
	Now          func() time.Time
}

// Handler serves the /api routes.
type Handler struct {
	svc    Service
	log    *zap.Logger
	tokens *auth.Tokens
	db     HealthCheck
	cache  HealthCheck
	limit  int64
	now    func() time.Time
}

// New creates a handler.
func New(svc Service, opts Options) *Handler {
	h := &Handler{
		svc:    svc,
		log:    opts.Logger,
		tokens: opts.Tokens,
		db:     opts.DBHealthy,
		cache:  opts.CacheHealthy,
		limit:  opts.MaxBodyBytes,
		now:    opts.Now,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	if h.limit > 0 {
		api.Use(httpmiddleware.BodyLimit(h.limit))
	}
	api.GET("/health", h.health)
	api.GET("/routes", h.routes(r))
	api.GET("/students", h.listStudents)
	api.GET("/attendance", h.listAttendance)
	api.GET("/attendance/stats", h.stats)
	api.GET("/attendance/export", h.exportAttendance)

	writes := api.Group("")
	if h.tokens != nil {
		api.POST("/devices/token", h.issueDeviceToken)
		api.POST("/devices/refresh", h.refreshDeviceToken)
		writes.Use(auth.DeviceAuth(h.tokens))
	}
	writes.POST("/students/register", h.registerStudent)
	writes.DELETE("/students/:student_id", h.deleteStudent)
	writes.POST("/attendance/mark", h.markAttendance)
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"db":        check(ctx, h.db),
		"cache":     check(ctx, h.cache),
	})
}

func check(ctx context.Context, fn HealthCheck) bool {
	return fn != nil && fn(ctx)
}

func (h *Handler) registerStudent(c *gin.Context) {
	var in attendance.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err, "No data provided"))
		return
	}
	st, err := h.svc.Register(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Student registered successfully",
		"student": gin.H{
			"id":         st.ID,
			"student_id": st.StudentID,
			"name":       st.Name,
			"email":      st.Email,
		},
	})
}

func (h *Handler) markAttendance(c *gin.Context) {
	var in attendance.MarkInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, bindError(err, "No data provided"))
		return
	}
	res, err := h.svc.Mark(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}

	switch res.Outcome {
	case attendance.OutcomeNoStudents:
		c.JSON(http.StatusNotFound, gin.H{
			"error":          "No students registered in the system",
			"message":        "Please register students before marking attendance",
			"total_students": 0,
		})
	case attendance.OutcomeNoMatch:
		c.JSON(http.StatusNotFound, gin.H{
			"error":                  "No matching student found",
			"message":                "Face does not match any registered student",
			"confidence":             res.Confidence,
			"threshold":              fmt.Sprintf("%.1f%%", (1-res.Threshold)*100),
			"total_students_checked": res.Checked,
		})
	case attendance.OutcomeDuplicate:
		c.JSON(http.StatusOK, markBody("Attendance already marked today", res))
	default:
		c.JSON(http.StatusCreated, markBody("Attendance marked successfully", res))
	}
}

func markBody(message string, res attendance.MarkResult) gin.H {
	body := gin.H{"message": message, "confidence": res.Confidence}
	if res.Student != nil {
		body["student"] = gin.H{"student_id": res.Student.StudentID, "name": res.Student.Name}
	}
	if res.Record != nil {
		body["attendance"] = gin.H{
			"timestamp":  res.Record.Timestamp,
			"status":     res.Record.Status,
			"class_name": res.Record.ClassName,
		}
	}
	return body
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.svc.ListStudents(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

func (h *Handler) deleteStudent(c *gin.Context) {
	if err := h.svc.DeleteStudent(c.Request.Context(), c.Param("student_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Student deleted successfully"})
}

func (h *Handler) listAttendance(c *gin.Context) {
	records, err := h.svc.ListAttendance(c.Request.Context(), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) exportAttendance(c *gin.Context) {
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		h.fail(c, apperror.Wrap(err, apperror.ErrValidation.Code, http.StatusBadRequest, "format must be csv or pdf"))
		return
	}
	date := strings.TrimSpace(c.Query("date"))
	records, err := h.svc.ListAttendance(c.Request.Context(), date)
	if err != nil {
		h.fail(c, err)
		return
	}

	title := "Attendance"
	if date != "" {
		title += " " + date
	}
	body, err := report.Render(format, report.Attendance(records), title)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename(format, date)))
	c.Data(http.StatusOK, format.ContentType(), body)
}

type deviceTokenRequest struct {
	DeviceID      string `json:"device_id" binding:"required,max=100"`
	EnrollmentKey string `json:"enrollment_key" binding:"required"`
}

func (h *Handler) issueDeviceToken(c *gin.Context) {
	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err, "device_id and enrollment_key are required"))
		return
	}
	pair, err := h.tokens.Enroll(req.DeviceID, req.EnrollmentKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidEnrollment) {
			h.fail(c, apperror.Clone(apperror.ErrUnauthorized, "invalid enrollment key"))
			return
		}
		h.fail(c, err)
		return
	}
	h.log.Info("device enrolled", zap.String("device_id", req.DeviceID))
	c.JSON(http.StatusCreated, tokenBody(pair))
}

func (h *Handler) refreshDeviceToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err, "refresh_token is required"))
		return
	}
	pair, err := h.tokens.Refresh(req.RefreshToken)
	if err != nil {
		h.fail(c, apperror.Wrap(err, apperror.ErrUnauthorized.Code, apperror.ErrUnauthorized.Status, "invalid refresh token"))
		return
	}
	c.JSON(http.StatusOK, tokenBody(pair))
}

func tokenBody(pair auth.TokenPair) gin.H {
	return gin.H{
		"device_id":          pair.Subject,
		"access_token":       pair.AccessToken,
		"refresh_token":      pair.RefreshToken,
		"access_expires_at":  pair.AccessExp.Unix(),
		"refresh_expires_at": pair.RefreshExp.Unix(),
	}
}

type routeInfo struct {
	Path     string   `json:"path"`
	Methods  []string `json:"methods"`
	Endpoint string   `json:"endpoint"`
}

func (h *Handler) routes(r *gin.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		byPath := map[string]*routeInfo{}
		for _, ri := range r.Routes() {
			info, ok := byPath[ri.Path]
			if !ok {
				info = &routeInfo{Path: ri.Path, Endpoint: endpointName(ri.Handler)}
				byPath[ri.Path] = info
			}
			info.Methods = append(info.Methods, ri.Method)
		}
		out := make([]routeInfo, 0, len(byPath))
		for _, info := range byPath {
			sort.Strings(info.Methods)
			out = append(out, *info)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
		c.JSON(http.StatusOK, out)
	}
}

// endpointName shortens a gin handler name such as
// "example.com/x/handler.(*Handler).stats-fm" to "stats". Closures report the
// function that built them.
func endpointName(full string) string {
	parts := strings.Split(strings.TrimSuffix(full, "-fm"), ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if !strings.HasPrefix(parts[i], "func") {
			return parts[i]
		}
	}
	return full
}

func bindError(err error, message string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.Wrap(err, apperror.ErrTooLarge.Code, apperror.ErrTooLarge.Status, apperror.ErrTooLarge.Message)
	}
	return apperror.Wrap(err, apperror.ErrValidation.Code, apperror.ErrValidation.Status, message)
}

func (h *Handler) fail(c *gin.Context, err error) {
	appErr := apperror.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(appErr.Status, gin.H{"error": appErr.Message})
}
