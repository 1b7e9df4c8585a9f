package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/pipeline"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/transfer"
	"github.com/3leaps/annflow/pkg/workspace"
)

// Launcher starts the annotation run for a staged input without waiting.
type Launcher interface {
	Launch(ctx context.Context, logDir, inputPath, jobID string) (*pipeline.Launch, error)
}

// Submitter handles job-request messages: it stages the input, launches the
// pipeline and moves the job PENDING -> RUNNING.
type Submitter struct {
	Store     jobs.Store
	Buckets   *provider.Registry
	Workspace *workspace.Manager
	Launcher  Launcher

	// LogDir holds per-job pipeline logs; empty writes them into the job
	// workspace.
	LogDir string

	Logger *zap.Logger
}

func (s *Submitter) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Handle processes one job request. The message is acked once the sequence
// has run, whatever the launch outcome.
func (s *Submitter) Handle(ctx context.Context, d *Delivery) error {
	var req queue.JobRequest
	if err := queue.Decode(d.Message, &req); err != nil {
		return err
	}
	key, err := jobs.ParseInputKey(req.InputKey)
	if err != nil {
		return &queue.MessageParseError{MessageID: d.ID, Reason: "bad input key", Err: err}
	}
	log := s.logger().With(zap.String("job_id", req.JobID), zap.String("message_id", d.ID))

	unlock, err := s.Workspace.Lock(key.JobPath())
	if errors.Is(err, workspace.ErrLocked) {
		log.Info("job is being submitted by another worker, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	defer func() { _ = unlock() }()

	if skip := s.alreadyStarted(ctx, log, req.JobID, key.JobPath()); skip {
		return nil
	}

	dir, err := s.Workspace.Create(key.JobPath(), req.InputKey, filepath.Base(req.InputFileName))
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	local := filepath.Join(dir, filepath.Base(req.InputFileName))

	if err := s.download(ctx, req, local); err != nil {
		// The launch below fails on the missing input and marks the job FAILED.
		log.Error("input download failed", zap.Error(err), zap.String("error_code", transfer.Classify(err)))
	}

	logDir := dir
	if s.LogDir != "" {
		logDir = filepath.Join(s.LogDir, req.JobID)
	}
	launch, err := s.Launcher.Launch(ctx, logDir, local, req.JobID)
	if err != nil {
		s.markFailed(ctx, log, req.JobID)
		return fmt.Errorf("launch pipeline for %s: %w", req.JobID, err)
	}
	log.Info("pipeline launched", zap.Int("pid", launch.PID), zap.String("input", local))
	s.recordLaunch(log, key.JobPath(), launch)

	err = s.Store.Transition(ctx, req.JobID, jobs.StatusPending, jobs.StatusRunning, jobs.Changes{})
	switch {
	case err == nil:
		log.Info("job running")
	case jobs.IsConditionFailed(err):
		log.Debug("job already advanced past PENDING")
	default:
		return fmt.Errorf("mark %s running: %w", req.JobID, err)
	}
	return nil
}

// alreadyStarted reports whether a duplicate delivery should skip the launch.
func (s *Submitter) alreadyStarted(ctx context.Context, log *zap.Logger, jobID, jobPath string) bool {
	rec, err := s.Store.Get(ctx, jobID)
	switch {
	case err == nil && rec.Status != jobs.StatusPending:
		log.Info("job no longer pending, skipping launch", zap.String("status", string(rec.Status)))
		return true
	case jobs.IsNotFound(err):
		log.Warn("job record missing, skipping launch")
		return true
	case err != nil:
		log.Warn("job lookup failed, continuing", zap.Error(err))
	}

	if marker, err := s.Workspace.ReadMarker(jobPath); err == nil && marker.Running() {
		log.Info("pipeline already running, skipping launch", zap.Int("pid", marker.PID))
		return true
	}
	return false
}

func (s *Submitter) download(ctx context.Context, req queue.JobRequest, local string) error {
	p, err := s.Buckets.Get(ctx, req.InputsBucket)
	if err != nil {
		return err
	}
	_, err = transfer.Download(ctx, p, req.InputKey, local)
	return err
}

func (s *Submitter) markFailed(ctx context.Context, log *zap.Logger, jobID string) {
	err := s.Store.Transition(ctx, jobID, jobs.StatusPending, jobs.StatusFailed, jobs.Changes{})
	switch {
	case err == nil:
		log.Warn("job marked FAILED after launch failure")
	case jobs.IsConditionFailed(err):
		// A concurrent delivery owns the job now.
		log.Debug("job left PENDING before it could be marked FAILED")
	default:
		log.Error("mark job FAILED", zap.Error(err))
	}
}

func (s *Submitter) recordLaunch(log *zap.Logger, jobPath string, launch *pipeline.Launch) {
	marker, err := s.Workspace.ReadMarker(jobPath)
	if err != nil {
		log.Warn("read workspace marker", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	marker.PID = launch.PID
	marker.LaunchedAt = &now
	marker.StdoutPath = launch.StdoutPath
	marker.StderrPath = launch.StderrPath
	if err := s.Workspace.WriteMarker(jobPath, marker); err != nil {
		log.Warn("write workspace marker", zap.Error(err))
	}
}
