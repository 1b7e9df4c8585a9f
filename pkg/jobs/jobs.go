// Package jobs defines the annotation job record, its lifecycle state machine,
// and the Store contract shared by every worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// allowedTransitions is the guarded transition table. COMPLETED->COMPLETED is
// the repeatable terminal write; FAILED has no exits.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusCompleted},
}

// ParseStatus validates s against the known states.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransition reports whether from->to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no forward progress is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound indicates no record exists for the job id.
	ErrNotFound = errors.New("job not found")

	// ErrConditionFailed indicates a guarded write was rejected because the
	// record no longer holds the expected prior status.
	ErrConditionFailed = errors.New("conditional write rejected")

	// ErrInvalidTransition indicates an edge missing from the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// IsConditionFailed reports whether err is a guard rejection.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Record is the persisted job record. The JSON form is also the completion
// event payload.
type Record struct {
	JobID          string `json:"job_id" dynamodbav:"job_id"`
	UserID         string `json:"user_id" dynamodbav:"user_id"`
	UserEmail      string `json:"user_email,omitempty" dynamodbav:"user_email,omitempty"`
	InputFileName  string `json:"input_file_name" dynamodbav:"input_file_name"`
	InputsBucket   string `json:"s3_inputs_bucket" dynamodbav:"s3_inputs_bucket"`
	InputKey       string `json:"s3_key_input_file" dynamodbav:"s3_key_input_file"`
	SubmitTime     int64  `json:"submit_time" dynamodbav:"submit_time"`
	Status         Status `json:"job_status" dynamodbav:"job_status"`
	ResultsBucket  string `json:"s3_results_bucket,omitempty" dynamodbav:"s3_results_bucket,omitempty"`
	ResultKey      string `json:"s3_key_result_file,omitempty" dynamodbav:"s3_key_result_file,omitempty"`
	LogKey         string `json:"s3_key_log_file,omitempty" dynamodbav:"s3_key_log_file,omitempty"`
	CompleteTime   int64  `json:"complete_time,omitempty" dynamodbav:"complete_time,omitempty"`
	ArchiveID      string `json:"results_file_archive_id,omitempty" dynamodbav:"results_file_archive_id,omitempty"`
	RestoreMessage string `json:"restore_message,omitempty" dynamodbav:"restore_message,omitempty"`
}

// Validate checks the fields every stored record must carry.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return err
	}
	return nil
}

// Changes lists optional attribute writes. Nil fields are left untouched. A
// non-nil empty RestoreMessage clears the marker.
type Changes struct {
	ResultsBucket  *string
	ResultKey      *string
	LogKey         *string
	CompleteTime   *int64
	ArchiveID      *string
	RestoreMessage *string
}

// Empty reports whether c writes nothing.
func (c Changes) Empty() bool {
	return c.ResultsBucket == nil && c.ResultKey == nil && c.LogKey == nil &&
		c.CompleteTime == nil && c.ArchiveID == nil && c.RestoreMessage == nil
}

// Apply copies the set fields onto r.
func (c Changes) Apply(r *Record) {
	if c.ResultsBucket != nil {
		r.ResultsBucket = *c.ResultsBucket
	}
	if c.ResultKey != nil {
		r.ResultKey = *c.ResultKey
	}
	if c.LogKey != nil {
		r.LogKey = *c.LogKey
	}
	if c.CompleteTime != nil {
		r.CompleteTime = *c.CompleteTime
	}
	if c.ArchiveID != nil {
		r.ArchiveID = *c.ArchiveID
	}
	if c.RestoreMessage != nil {
		r.RestoreMessage = *c.RestoreMessage
	}
}

// Ptr returns a pointer to v, for building Changes.
func Ptr[T any](v T) *T { return &v }

// Store is the job record table.
type Store interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, jobID string) (*Record, error)

	// Put writes rec unconditionally.
	Put(ctx context.Context, rec *Record) error

	// Transition moves the record from -> to and applies changes in the same
	// write, only if the stored status still equals from. Edges missing from
	// the transition table fail with ErrInvalidTransition before any write;
	// a guard mismatch fails with ErrConditionFailed.
	Transition(ctx context.Context, jobID string, from, to Status, changes Changes) error

	// Update applies changes without looking at status. It never creates a
	// record; a missing job yields ErrNotFound.
	Update(ctx context.Context, jobID string, changes Changes) error

	// QueryByUser returns every record owned by userID via the user index.
	QueryByUser(ctx context.Context, userID string) ([]Record, error)
}

// CheckTransition returns ErrInvalidTransition for edges outside the table.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
