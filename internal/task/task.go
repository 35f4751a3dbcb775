package task

import (
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/certgen/pkg/certificate"
)

// Status is the lifecycle position of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions will happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Task is one certificate generation request.
type Task struct {
	ID          string             `json:"id"`
	Record      certificate.Record `json:"record"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// New creates a task with a fresh ID.
func New(record certificate.Record) Task {
	return Task{
		ID:          uuid.NewString(),
		Record:      record,
		SubmittedAt: time.Now().UTC(),
	}
}

// Result is the immutable outcome of a task.
type Result struct {
	TaskID        string    `json:"task_id"`
	CertificateID string    `json:"certificate_id"`
	Status        Status    `json:"status"`
	OutputPath    string    `json:"output_path,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	Message       string    `json:"message,omitempty"`
	Attempts      int       `json:"attempts"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Succeeded reports whether the task produced a certificate.
func (r Result) Succeeded() bool {
	return r.Status == StatusSucceeded
}
