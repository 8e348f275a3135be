// Package archive moves registration photos to the image CDN off the request path.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/cloudinary"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/queue"
)

// Job is the body of a photo archive message.
type Job struct {
	StudentID string `json:"student_id"`
	Image     string `json:"image"`
}

// Publisher enqueues archive jobs. It implements attendance.PhotoArchiver.
type Publisher struct {
	q queue.Queue
}

// NewPublisher wraps q.
func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

// Archive enqueues the photo of studentID for upload.
func (p *Publisher) Archive(ctx context.Context, studentID, image string) error {
	body, err := json.Marshal(Job{StudentID: studentID, Image: image})
	if err != nil {
		return fmt.Errorf("encode archive job: %w", err)
	}
	return p.q.Publish(ctx, queue.Message{Type: queue.TypePhotoArchive, Body: body})
}

// Uploader stores an image and returns where it lives.
type Uploader interface {
	UploadBase64(ctx context.Context, data, publicID string) (*cloudinary.UploadResult, error)
}

// PhotoStore records the archived photo location.
type PhotoStore interface {
	SetPhotoURL(ctx context.Context, studentID, url string) error
}

// Worker consumes archive jobs.
type Worker struct {
	uploader Uploader
	store    PhotoStore
	log      *zap.Logger
}

// NewWorker builds a worker. A nil logger discards output.
func NewWorker(uploader Uploader, store PhotoStore, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{uploader: uploader, store: store, log: log}
}

// Run handles messages until the channel closes. Failed jobs are logged and
// dropped.
func (w *Worker) Run(ctx context.Context, messages <-chan queue.Message) {
	for msg := range messages {
		if msg.Type != queue.TypePhotoArchive {
			w.log.Debug("skipping message", zap.String("type", msg.Type))
			continue
		}
		if err := w.Handle(ctx, msg); err != nil {
			w.log.Error("photo archive failed", zap.Error(err))
		}
	}
}

// Handle uploads one photo and stores its URL.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return fmt.Errorf("decode archive job: %w", err)
	}
	if job.StudentID == "" || job.Image == "" {
		return errors.New("archive job missing student id or image")
	}

	res, err := w.uploader.UploadBase64(ctx, job.Image, job.StudentID)
	if err != nil {
		return fmt.Errorf("upload photo for %s: %w", job.StudentID, err)
	}
	if err := w.store.SetPhotoURL(ctx, job.StudentID, res.SecureURL); err != nil {
		return fmt.Errorf("save photo url for %s: %w", job.StudentID, err)
	}
	w.log.Info("photo archived", zap.String("student_id", job.StudentID), zap.String("url", res.SecureURL))
	return nil
}
