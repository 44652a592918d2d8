package ingest

import (
	"time"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

// StatusView is the read-only projection of a file served to polling clients.
type StatusView struct {
	ID          string          `json:"id"`
	Filename    string          `json:"filename"`
	Processed   bool            `json:"processed"`
	Status      model.JobStatus `json:"status"`
	Results     *model.Results  `json:"results"`
	Error       string          `json:"error,omitempty"`
	UploadedAt  time.Time       `json:"uploadedAt"`
	QueuedAt    *time.Time      `json:"queuedAt,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	FailedAt    *time.Time      `json:"failedAt,omitempty"`
}

// NewStatusView projects f.
func NewStatusView(f *model.UploadedFile) StatusView {
	job := f.Job
	v := StatusView{
		ID:         f.ID,
		Filename:   f.OriginalName,
		Processed:  f.Processed,
		Status:     job.Status(),
		Error:      job.Error(),
		UploadedAt: f.UploadedAt,
		QueuedAt:   optional(job.QueuedAt()),
		StartedAt:  optional(job.StartedAt()),
	}
	if res, ok := job.Results(); ok {
		v.Results = &res
	}
	switch job.Status() {
	case model.StatusCompleted:
		v.CompletedAt = optional(job.FinishedAt())
	case model.StatusFailed:
		v.FailedAt = optional(job.FinishedAt())
	}
	return v
}

func optional(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}
