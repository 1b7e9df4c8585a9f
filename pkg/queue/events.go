package queue

import (
	"github.com/3leaps/annflow/pkg/jobs"
)

// JobRequest asks the submission worker to start a job.
type JobRequest struct {
	JobID         string      `json:"job_id"`
	UserID        string      `json:"user_id"`
	InputFileName string      `json:"input_file_name"`
	InputsBucket  string      `json:"s3_inputs_bucket"`
	InputKey      string      `json:"s3_key_input_file"`
	Status        jobs.Status `json:"job_status"`
}

func (r *JobRequest) Validate() error {
	return missing(
		[2]string{"job_id", r.JobID},
		[2]string{"user_id", r.UserID},
		[2]string{"input_file_name", r.InputFileName},
		[2]string{"s3_inputs_bucket", r.InputsBucket},
		[2]string{"s3_key_input_file", r.InputKey},
		[2]string{"job_status", string(r.Status)},
	)
}

// Completion is the record snapshot published when a job completes.
type Completion struct {
	jobs.Record
}

func (c *Completion) Validate() error {
	return missing(
		[2]string{"job_id", c.JobID},
		[2]string{"user_id", c.UserID},
		[2]string{"s3_results_bucket", c.ResultsBucket},
		[2]string{"s3_key_result_file", c.ResultKey},
	)
}

// Upgrade announces that a user moved to the premium role.
type Upgrade struct {
	UserID string `json:"user_id"`
}

func (u *Upgrade) Validate() error {
	return missing([2]string{"user_id", u.UserID})
}

// Thaw carries a retrieval ticket for one archived result.
type Thaw struct {
	RetrievalID string `json:"retrieval_id"`
	ResultKey   string `json:"s3_key_result_file"`
	JobID       string `json:"job_id"`
}

func (t *Thaw) Validate() error {
	return missing(
		[2]string{"retrieval_id", t.RetrievalID},
		[2]string{"s3_key_result_file", t.ResultKey},
		[2]string{"job_id", t.JobID},
	)
}
