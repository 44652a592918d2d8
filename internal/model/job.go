package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStatus describes the import lifecycle of an uploaded file.
type JobStatus string

const (
	StatusUnknown    JobStatus = "unknown"
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ErrInvalidTransition is returned when a state change is not allowed from
// the current status.
var ErrInvalidTransition = errors.New("invalid job state transition")

// JobState is the import state machine value. Its fields are unexported so a
// state can only be built through Queued and the transition methods, which
// keeps combinations such as "completed without results" unrepresentable.
// The zero value is the unknown state of a file that was never queued.
type JobState struct {
	status     JobStatus
	queuedAt   time.Time
	startedAt  time.Time
	finishedAt time.Time
	results    *Results
	err        string
}

// Queued returns the state of a file waiting for a runner.
func Queued(at time.Time) JobState {
	return JobState{status: StatusQueued, queuedAt: at.UTC()}
}

// Start moves the job to processing. Any prior state may be restarted: a
// re-dispatched run overwrites the previous run's outcome.
func (s JobState) Start(at time.Time) JobState {
	queued := s.queuedAt
	if queued.IsZero() {
		queued = at.UTC()
	}
	return JobState{status: StatusProcessing, queuedAt: queued, startedAt: at.UTC()}
}

// Complete finishes a processing job with its results.
func (s JobState) Complete(at time.Time, results Results) (JobState, error) {
	if s.status != StatusProcessing {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status(), StatusCompleted)
	}
	r := results.clone()
	return JobState{
		status:     StatusCompleted,
		queuedAt:   s.queuedAt,
		startedAt:  s.startedAt,
		finishedAt: at.UTC(),
		results:    &r,
	}, nil
}

// Fail terminates the job with an error message and whatever results were
// accumulated before the failure.
func (s JobState) Fail(at time.Time, msg string, partial Results) JobState {
	if msg == "" {
		msg = "import failed"
	}
	r := partial.clone()
	return JobState{
		status:     StatusFailed,
		queuedAt:   s.queuedAt,
		startedAt:  s.startedAt,
		finishedAt: at.UTC(),
		results:    &r,
		err:        msg,
	}
}

// Status returns the lifecycle status.
func (s JobState) Status() JobStatus {
	if s.status == "" {
		return StatusUnknown
	}
	return s.status
}

// Terminal reports whether the job reached completed or failed.
func (s JobState) Terminal() bool {
	return s.status == StatusCompleted || s.status == StatusFailed
}

// QueuedAt returns when the job was last queued.
func (s JobState) QueuedAt() (time.Time, bool) { return s.queuedAt, !s.queuedAt.IsZero() }

// StartedAt returns when the current run started.
func (s JobState) StartedAt() (time.Time, bool) { return s.startedAt, !s.startedAt.IsZero() }

// FinishedAt returns when the run reached a terminal state.
func (s JobState) FinishedAt() (time.Time, bool) { return s.finishedAt, !s.finishedAt.IsZero() }

// Results returns a copy of the run results; ok is false for non-terminal states.
func (s JobState) Results() (Results, bool) {
	if s.results == nil {
		return Results{}, false
	}
	return s.results.clone(), true
}

// Error returns the failure message of a failed job.
func (s JobState) Error() string { return s.err }

type jobWire struct {
	Status      JobStatus  `json:"status"`
	QueuedAt    *time.Time `json:"queuedAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
	Results     *Results   `json:"results,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// MarshalJSON encodes the state as one flat document.
func (s JobState) MarshalJSON() ([]byte, error) {
	w := jobWire{
		Status:    s.Status(),
		QueuedAt:  timePtr(s.queuedAt),
		StartedAt: timePtr(s.startedAt),
		Error:     s.err,
		Results:   s.results,
	}
	switch s.status {
	case StatusCompleted:
		w.CompletedAt = timePtr(s.finishedAt)
	case StatusFailed:
		w.FailedAt = timePtr(s.finishedAt)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a stored state and rejects illegal combinations.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var w jobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	next := JobState{
		status:    w.Status,
		queuedAt:  timeVal(w.QueuedAt),
		startedAt: timeVal(w.StartedAt),
		err:       w.Error,
		results:   w.Results,
	}
	switch w.Status {
	case "", StatusUnknown:
		next = JobState{}
	case StatusQueued:
		next.startedAt, next.results, next.err = time.Time{}, nil, ""
	case StatusProcessing:
		if w.StartedAt == nil {
			return fmt.Errorf("decode job state: processing without start time")
		}
		next.results, next.err = nil, ""
	case StatusCompleted:
		if w.CompletedAt == nil || w.Results == nil {
			return fmt.Errorf("decode job state: completed without results")
		}
		next.finishedAt, next.err = timeVal(w.CompletedAt), ""
	case StatusFailed:
		if w.FailedAt == nil || w.Error == "" {
			return fmt.Errorf("decode job state: failed without error")
		}
		next.finishedAt = timeVal(w.FailedAt)
		if next.results == nil {
			next.results = &Results{}
		}
	default:
		return fmt.Errorf("decode job state: unknown status %q", w.Status)
	}
	*s = next
	return nil
}
