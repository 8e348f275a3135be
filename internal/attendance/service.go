package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/apperror"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/imagehash"
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	CreateStudent(ctx context.Context, st *Student) error
	GetStudent(ctx context.Context, studentID string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	Gallery(ctx context.Context) ([]GalleryEntry, error)
	DeleteStudent(ctx context.Context, studentID string) (bool, error)
	InsertAttendance(ctx context.Context, rec Record) (Record, bool, error)
	ListAttendance(ctx context.Context, day *time.Time) ([]Record, error)
	Stats(ctx context.Context, day time.Time) (Stats, error)
}

// GalleryCache keeps the matching gallery outside the database. Load reports
// the cache generation alongside a miss; Save stores the gallery only if no
// Invalidate happened since that generation was read.
type GalleryCache interface {
	Load(ctx context.Context) (gallery []GalleryEntry, gen int64, hit bool, err error)
	Save(ctx context.Context, gen int64, gallery []GalleryEntry) error
	Invalidate(ctx context.Context) error
}

// PhotoArchiver hands registration photos off for long-term storage.
type PhotoArchiver interface {
	Archive(ctx context.Context, studentID, image string) error
}

// Observer receives domain events for instrumentation.
type Observer interface {
	StudentRegistered()
	MatchAttempt(outcome Outcome, distance float64)
	GalleryLookup(hit bool)
}

// Outcome classifies a mark attempt.
type Outcome string

const (
	OutcomeMarked     Outcome = "marked"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeNoMatch    Outcome = "no_match"
	OutcomeNoStudents Outcome = "no_students"
)

// RegisterInput is the payload for registering a student.
type RegisterInput struct {
	StudentID string `json:"student_id" validate:"required,max=50"`
	Name      string `json:"name" validate:"required,max=100"`
	Email     string `json:"email" validate:"omitempty,email,max=100"`
	Image     string `json:"image" validate:"required"`
}

// MarkInput is the payload for marking attendance.
type MarkInput struct {
	Image     string `json:"image" validate:"required"`
	ClassName string `json:"class_name" validate:"max=100"`
}

// MarkResult describes what a mark attempt did.
type MarkResult struct {
	Outcome    Outcome
	Student    *GalleryEntry
	Record     *Record
	Distance   float64
	Confidence float64
	Threshold  float64
	Checked    int
}

// Options tune a Service. Zero values pick defaults.
type Options struct {
	Threshold        float64
	DefaultClassName string
	Logger           *zap.Logger
	Cache            GalleryCache
	Archiver         PhotoArchiver
	Observer         Observer
	Now              func() time.Time
}

// Service coordinates registration, matching and attendance bookkeeping.
type Service struct {
	store     Store
	cache     GalleryCache
	archiver  PhotoArchiver
	observer  Observer
	log       *zap.Logger
	validate  *validator.Validate
	threshold float64
	class     string
	now       func() time.Time
}

// NewService creates a service backed by a store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:     store,
		cache:     opts.Cache,
		archiver:  opts.Archiver,
		observer:  opts.Observer,
		log:       opts.Logger,
		validate:  validator.New(),
		threshold: opts.Threshold,
		class:     opts.DefaultClassName,
		now:       opts.Now,
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if s.class == "" {
		s.class = "Default Class"
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Threshold returns the accepted match distance.
func (s *Service) Threshold() float64 { return s.threshold }

// Register validates the input, hashes the photo and stores a new student.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Student, error) {
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return Student{}, validationError(err)
	}

	existing, err := s.store.GetStudent(ctx, in.StudentID)
	if err != nil {
		return Student{}, err
	}
	if existing != nil {
		return Student{}, apperror.Clone(apperror.ErrConflict, "Student ID already exists")
	}

	hash, err := imagehash.FromBase64(in.Image)
	if err != nil {
		return Student{}, apperror.Wrap(err, apperror.ErrInvalidImage.Code, apperror.ErrInvalidImage.Status, apperror.ErrInvalidImage.Message)
	}

	st := Student{StudentID: in.StudentID, Name: in.Name, ImageHash: hash.String()}
	if in.Email != "" {
		email := in.Email
		st.Email = &email
	}
	if err := s.store.CreateStudent(ctx, &st); err != nil {
		if errors.Is(err, ErrDuplicateStudent) {
			return Student{}, apperror.Clone(apperror.ErrConflict, "Student ID already exists")
		}
		return Student{}, err
	}
	s.invalidateGallery(ctx)
	s.observer.StudentRegistered()

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, st.StudentID, in.Image); err != nil {
			s.log.Warn("photo archive enqueue failed", zap.String("student_id", st.StudentID), zap.Error(err))
		}
	}
	return st, nil
}

// Mark hashes the photo, finds the closest registered student and records
// attendance for today's date unless it was already recorded.
func (s *Service) Mark(ctx context.Context, in MarkInput) (MarkResult, error) {
	in.ClassName = strings.TrimSpace(in.ClassName)
	if strings.TrimSpace(in.Image) == "" {
		return MarkResult{}, apperror.Clone(apperror.ErrValidation, "No image provided")
	}
	if err := s.validate.Struct(in); err != nil {
		return MarkResult{}, validationError(err)
	}
	if in.ClassName == "" {
		in.ClassName = s.class
	}

	probe, err := imagehash.FromBase64(in.Image)
	if err != nil {
		return MarkResult{}, apperror.Wrap(err, apperror.ErrInvalidImage.Code, apperror.ErrInvalidImage.Status, apperror.ErrInvalidImage.Message)
	}

	gallery, err := s.gallery(ctx)
	if err != nil {
		return MarkResult{}, err
	}

	result := MarkResult{Threshold: s.threshold, Checked: len(gallery)}
	match, ok := BestMatch(probe, gallery)
	if !ok {
		result.Outcome = OutcomeNoStudents
		result.Checked = 0
		s.observer.MatchAttempt(result.Outcome, 1)
		return result, nil
	}
	result.Checked = match.Checked
	result.Distance = match.Distance
	result.Confidence = match.Confidence()

	if !match.Accepted(s.threshold) {
		result.Outcome = OutcomeNoMatch
		s.observer.MatchAttempt(result.Outcome, match.Distance)
		s.log.Info("no matching student",
			zap.Float64("distance", match.Distance),
			zap.Float64("threshold", s.threshold),
			zap.Int("checked", match.Checked))
		return result, nil
	}

	now := s.now().UTC()
	rec, created, err := s.store.InsertAttendance(ctx, Record{
		StudentID:  match.Entry.StudentID,
		Timestamp:  now,
		AttendedOn: Day(now),
		Status:     StatusPresent,
		ClassName:  in.ClassName,
	})
	if errors.Is(err, ErrUnknownStudent) {
		s.invalidateGallery(ctx)
		return MarkResult{}, apperror.Wrap(err, apperror.ErrNotFound.Code, apperror.ErrNotFound.Status, "Student not found")
	}
	if err != nil {
		return MarkResult{}, err
	}
	rec.StudentName = match.Entry.Name

	entry := match.Entry
	result.Student = &entry
	result.Record = &rec
	result.Outcome = OutcomeMarked
	if !created {
		result.Outcome = OutcomeDuplicate
	}
	s.observer.MatchAttempt(result.Outcome, match.Distance)
	return result, nil
}

// ListStudents returns all registered students.
func (s *Service) ListStudents(ctx context.Context) ([]Student, error) {
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	if students == nil {
		students = []Student{}
	}
	return students, nil
}

// DeleteStudent removes a student and its attendance records.
func (s *Service) DeleteStudent(ctx context.Context, studentID string) error {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return apperror.Clone(apperror.ErrValidation, "Student ID required")
	}
	deleted, err := s.store.DeleteStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if !deleted {
		return apperror.Clone(apperror.ErrNotFound, "Student not found")
	}
	s.invalidateGallery(ctx)
	return nil
}

// ListAttendance returns attendance records, filtered to date (YYYY-MM-DD)
// when it is not empty.
func (s *Service) ListAttendance(ctx context.Context, date string) ([]Record, error) {
	var day *time.Time
	if date = strings.TrimSpace(date); date != "" {
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrValidation.Code, apperror.ErrValidation.Status, "Invalid date, expected YYYY-MM-DD")
		}
		day = &parsed
	}
	records, err := s.store.ListAttendance(ctx, day)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Stats reports today's totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx, Day(s.now()))
}

func (s *Service) gallery(ctx context.Context) ([]GalleryEntry, error) {
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		gallery, generation, hit, err := s.cache.Load(ctx)
		switch {
		case err != nil:
			s.log.Warn("gallery cache load failed", zap.Error(err))
		case hit:
			s.observer.GalleryLookup(true)
			return gallery, nil
		default:
			s.observer.GalleryLookup(false)
			gen, cacheable = generation, true
		}
	}

	gallery, err := s.store.Gallery(ctx)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := s.cache.Save(ctx, gen, gallery); err != nil {
			s.log.Warn("gallery cache save failed", zap.Error(err))
		}
	}
	return gallery, nil
}

func (s *Service) invalidateGallery(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("gallery cache invalidate failed", zap.Error(err))
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.Wrap(err, apperror.ErrValidation.Code, apperror.ErrValidation.Status, apperror.ErrValidation.Message)
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "Missing required fields"
	case "email":
		msg = "Invalid email address"
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param())
	default:
		msg = fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
	}
	return apperror.Wrap(err, apperror.ErrValidation.Code, apperror.ErrValidation.Status, msg)
}

type nopObserver struct{}

func (nopObserver) StudentRegistered()            {}
func (nopObserver) MatchAttempt(Outcome, float64) {}
func (nopObserver) GalleryLookup(bool)            {}
