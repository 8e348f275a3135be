package attendance

import "time"

// StatusPresent is the only status the service records.
const StatusPresent = "Present"

// Student is a registered student and the hash of the photo they enrolled with.
type Student struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email"`
	ImageHash string    `json:"-"`
	PhotoURL  *string   `json:"photo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is one attendance row.
type Record struct {
	ID          int64     `json:"id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	AttendedOn  time.Time `json:"-"`
	Status      string    `json:"status"`
	ClassName   string    `json:"class_name"`
}

// GalleryEntry is the slice of a student needed for matching.
type GalleryEntry struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Hash      string `json:"hash"`
}

// Stats summarises attendance for one day.
type Stats struct {
	TotalStudents int `json:"total_students"`
	Present       int `json:"present"`
	Absent        int `json:"absent"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
