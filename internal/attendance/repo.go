package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateStudent is returned when the student_id is already registered.
	ErrDuplicateStudent = errors.New("student already exists")
	// ErrUnknownStudent is returned when attendance references a student row
	// that no longer exists.
	ErrUnknownStudent = errors.New("student does not exist")
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Repository persists students and attendance in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("database not configured")
	}
	return r.db.PingContext(ctx)
}

// CreateStudent inserts st and fills in its id and creation time.
func (r *Repository) CreateStudent(ctx context.Context, st *Student) error {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (student_id, name, email, image_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, st.StudentID, st.Name, st.Email, st.ImageHash)
	if err := row.Scan(&st.ID, &st.CreatedAt); err != nil {
		if pgCode(err) == uniqueViolation {
			return ErrDuplicateStudent
		}
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// GetStudent returns a student by its external id, or nil when none exists.
func (r *Repository) GetStudent(ctx context.Context, studentID string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, name, email, image_hash, photo_url, created_at
		FROM students WHERE student_id = $1
	`, studentID)
	var st Student
	if err := row.Scan(&st.ID, &st.StudentID, &st.Name, &st.Email, &st.ImageHash, &st.PhotoURL, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &st, nil
}

// ListStudents returns every student ordered by student_id.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, name, email, image_hash, photo_url, created_at
		FROM students
		ORDER BY student_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.StudentID, &st.Name, &st.Email, &st.ImageHash, &st.PhotoURL, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// Gallery returns the hashes of all registered students in student_id order.
func (r *Repository) Gallery(ctx context.Context) ([]GalleryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT student_id, name, image_hash FROM students ORDER BY student_id`)
	if err != nil {
		return nil, fmt.Errorf("load gallery: %w", err)
	}
	defer rows.Close()

	var gallery []GalleryEntry
	for rows.Next() {
		var g GalleryEntry
		if err := rows.Scan(&g.StudentID, &g.Name, &g.Hash); err != nil {
			return nil, fmt.Errorf("scan gallery: %w", err)
		}
		gallery = append(gallery, g)
	}
	return gallery, rows.Err()
}

// DeleteStudent removes a student and its attendance in one transaction.
// It reports false when no such student exists.
func (r *Repository) DeleteStudent(ctx context.Context, studentID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE student_id = $1`, studentID); err != nil {
		return false, fmt.Errorf("delete attendance: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM students WHERE student_id = $1`, studentID)
	if err != nil {
		return false, fmt.Errorf("delete student: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete student: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return true, nil
}

// SetPhotoURL records where the registration photo was archived.
func (r *Repository) SetPhotoURL(ctx context.Context, studentID, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE students SET photo_url = $2 WHERE student_id = $1`, studentID, url)
	if err != nil {
		return fmt.Errorf("set photo url: %w", err)
	}
	return nil
}

// InsertAttendance writes rec unless a record for the same student, day and
// class exists. It returns the stored record and whether it was created now,
// or ErrUnknownStudent when the student was deleted in the meantime.
func (r *Repository) InsertAttendance(ctx context.Context, rec Record) (Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (student_id, marked_at, attended_on, status, class_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, attended_on, class_name) DO NOTHING
		RETURNING id
	`, rec.StudentID, rec.Timestamp, rec.AttendedOn, rec.Status, rec.ClassName)
	err := row.Scan(&rec.ID)
	if err == nil {
		return rec, true, nil
	}
	if pgCode(err) == foreignKeyViolation {
		return Record{}, false, ErrUnknownStudent
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, fmt.Errorf("insert attendance: %w", err)
	}

	existing := Record{StudentID: rec.StudentID, AttendedOn: rec.AttendedOn, ClassName: rec.ClassName}
	row = r.db.QueryRowContext(ctx, `
		SELECT id, marked_at, status
		FROM attendance
		WHERE student_id = $1 AND attended_on = $2 AND class_name = $3
	`, rec.StudentID, rec.AttendedOn, rec.ClassName)
	if err := row.Scan(&existing.ID, &existing.Timestamp, &existing.Status); err != nil {
		return Record{}, false, fmt.Errorf("load existing attendance: %w", err)
	}
	return existing, false, nil
}

// ListAttendance returns attendance newest first, optionally for one day.
func (r *Repository) ListAttendance(ctx context.Context, day *time.Time) ([]Record, error) {
	query := `
		SELECT a.id, a.student_id, COALESCE(s.name, 'Unknown'), a.marked_at, a.attended_on, a.status, a.class_name
		FROM attendance a
		LEFT JOIN students s ON s.student_id = a.student_id`
	var args []any
	if day != nil {
		query += ` WHERE a.attended_on = $1`
		args = append(args, *day)
	}
	query += ` ORDER BY a.marked_at DESC, a.id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.Timestamp, &rec.AttendedOn, &rec.Status, &rec.ClassName); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats counts registered students and distinct students present on day.
func (r *Repository) Stats(ctx context.Context, day time.Time) (Stats, error) {
	var s Stats
	row := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(DISTINCT student_id) FROM attendance WHERE attended_on = $1)
	`, day)
	if err := row.Scan(&s.TotalStudents, &s.Present); err != nil {
		return Stats{}, fmt.Errorf("attendance stats: %w", err)
	}
	s.Absent = max(0, s.TotalStudents-s.Present)
	return s, nil
}
