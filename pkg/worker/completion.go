package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/pipeline"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/transfer"
	"github.com/3leaps/annflow/pkg/workspace"
)

// ErrJobFailed indicates the job was marked FAILED and cannot complete.
var ErrJobFailed = errors.New("job is FAILED")

// Reporter publishes the outputs of a finished pipeline run.
type Reporter struct {
	Store         jobs.Store
	Buckets       *provider.Registry
	ResultsBucket string
	Completions   queue.Publisher

	ResultSuffix string
	LogSuffix    string

	Logger *zap.Logger
	Now    func() time.Time
}

// Run identifies a finished pipeline run.
type Run struct {
	JobID     string
	Account   string
	User      string
	InputPath string
	Outputs   pipeline.Outputs
}

func (r *Reporter) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Reporter) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Report uploads the outputs, records completion and publishes the completion
// event. It returns the completed record.
func (r *Reporter) Report(ctx context.Context, run Run) (*jobs.Record, error) {
	log := r.logger().With(zap.String("job_id", run.JobID))

	resSuffix, logSuffix := r.ResultSuffix, r.LogSuffix
	if resSuffix == "" {
		resSuffix = jobs.ResultSuffix
	}
	if logSuffix == "" {
		logSuffix = jobs.LogSuffix
	}
	resultKey := jobs.OutputKey(run.Account, run.User, run.JobID, run.InputPath, resSuffix)
	logKey := jobs.OutputKey(run.Account, run.User, run.JobID, run.InputPath, logSuffix)

	if err := r.upload(ctx, run.Outputs.Result, resultKey); err != nil {
		r.fail(ctx, log, run.JobID)
		return nil, err
	}
	if err := r.upload(ctx, run.Outputs.Log, logKey); err != nil {
		r.fail(ctx, log, run.JobID)
		return nil, err
	}
	if err := workspace.Remove(run.Outputs.Result, run.Outputs.Log); err != nil {
		log.Warn("remove local outputs", zap.Error(err))
	}

	changes := jobs.Changes{
		ResultsBucket: jobs.Ptr(r.ResultsBucket),
		ResultKey:     jobs.Ptr(resultKey),
		LogKey:        jobs.Ptr(logKey),
		CompleteTime:  jobs.Ptr(r.now().Unix()),
	}
	if err := r.complete(ctx, log, run.JobID, changes); err != nil {
		return nil, err
	}

	rec, err := r.Store.Get(ctx, run.JobID)
	if err != nil {
		return nil, fmt.Errorf("read completed job: %w", err)
	}
	payload, err := queue.Encode(rec)
	if err != nil {
		return nil, err
	}
	if err := r.Completions.Publish(ctx, payload, rec.JobID); err != nil {
		return rec, fmt.Errorf("publish completion: %w", err)
	}
	log.Info("job completed", zap.String("result_key", resultKey))
	return rec, nil
}

func (r *Reporter) upload(ctx context.Context, local, key string) error {
	p, err := r.Buckets.Get(ctx, r.ResultsBucket)
	if err != nil {
		return err
	}
	if _, err := transfer.Upload(ctx, p, local, key); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// complete writes COMPLETED through the transition table. RUNNING is the
// expected prior state; a record still PENDING is first moved to RUNNING; a
// COMPLETED record is overwritten; a FAILED record is left alone.
func (r *Reporter) complete(ctx context.Context, log *zap.Logger, jobID string, changes jobs.Changes) error {
	from := jobs.StatusRunning
	for attempt := 0; attempt < 3; attempt++ {
		err := r.Store.Transition(ctx, jobID, from, jobs.StatusCompleted, changes)
		if err == nil {
			return nil
		}
		if !jobs.IsConditionFailed(err) {
			return fmt.Errorf("mark %s completed: %w", jobID, err)
		}

		rec, gerr := r.Store.Get(ctx, jobID)
		if gerr != nil {
			return fmt.Errorf("mark %s completed: %w", jobID, gerr)
		}
		switch rec.Status {
		case jobs.StatusCompleted:
			log.Debug("job already completed, overwriting result attributes")
			from = jobs.StatusCompleted
		case jobs.StatusRunning:
			from = jobs.StatusRunning
		case jobs.StatusPending:
			log.Debug("job still PENDING at completion, advancing to RUNNING")
			terr := r.Store.Transition(ctx, jobID, jobs.StatusPending, jobs.StatusRunning, jobs.Changes{})
			if terr != nil && !jobs.IsConditionFailed(terr) {
				return fmt.Errorf("mark %s running: %w", jobID, terr)
			}
			from = jobs.StatusRunning
		case jobs.StatusFailed:
			return fmt.Errorf("%w: %s", ErrJobFailed, jobID)
		}
	}
	return fmt.Errorf("mark %s completed: %w", jobID, jobs.ErrConditionFailed)
}

func (r *Reporter) fail(ctx context.Context, log *zap.Logger, jobID string) {
	if err := r.Fail(ctx, jobID); err != nil {
		log.Error("mark job FAILED", zap.Error(err))
		return
	}
	log.Warn("job marked FAILED")
}

// Fail moves a RUNNING or still PENDING job to FAILED. A job already
// COMPLETED or FAILED is left alone and reported as ErrConditionFailed.
func (r *Reporter) Fail(ctx context.Context, jobID string) error {
	err := r.Store.Transition(ctx, jobID, jobs.StatusRunning, jobs.StatusFailed, jobs.Changes{})
	if !jobs.IsConditionFailed(err) {
		return err
	}
	return r.Store.Transition(ctx, jobID, jobs.StatusPending, jobs.StatusFailed, jobs.Changes{})
}
