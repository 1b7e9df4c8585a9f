package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/annflow/pkg/archive"
	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/transfer"
	"github.com/3leaps/annflow/pkg/workspace"
)

// FailurePolicy decides what happens to a thaw message whose retrieval
// reached a terminal failure.
type FailurePolicy string

const (
	// FailureRetain leaves the message for redelivery.
	FailureRetain FailurePolicy = "retain"

	// FailureDiscard deletes the message.
	FailureDiscard FailurePolicy = "discard"
)

// ParseFailurePolicy validates a policy name; empty means retain.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", FailureRetain:
		return FailureRetain, nil
	case FailureDiscard:
		return p, nil
	}
	return "", fmt.Errorf("unknown thaw failure policy %q", s)
}

// Thawer handles thaw events: once a retrieval succeeds the bytes go back to
// hot storage under the original result key.
type Thawer struct {
	Store   jobs.Store
	Archive archive.Archive
	Buckets *provider.Registry

	// ResultsBucket is used when the job record names none.
	ResultsBucket string
	DownloadDir   string
	OnFailure     FailurePolicy

	Logger *zap.Logger
}

func (t *Thawer) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

func (t *Thawer) Handle(ctx context.Context, d *Delivery) error {
	var th queue.Thaw
	if err := queue.Decode(d.Message, &th); err != nil {
		return err
	}
	log := t.logger().With(
		zap.String("job_id", th.JobID),
		zap.String("retrieval_id", th.RetrievalID),
		zap.String("message_id", d.ID),
	)

	status, err := t.Archive.Describe(ctx, th.RetrievalID)
	if err != nil {
		return fmt.Errorf("describe retrieval: %w", err)
	}

	switch status {
	case archive.StatusSucceeded:
	case archive.StatusFailed:
		if t.OnFailure == FailureDiscard {
			log.Error("retrieval failed, discarding thaw message")
			return nil
		}
		log.Error("retrieval failed, thaw message retained")
		d.Retain()
		return nil
	default:
		log.Debug("retrieval in progress", zap.String("status", string(status)))
		d.Retain()
		return nil
	}

	bucket := t.ResultsBucket
	if rec, err := t.Store.Get(ctx, th.JobID); err == nil && rec.ResultsBucket != "" {
		bucket = rec.ResultsBucket
	}
	hot, err := t.Buckets.Get(ctx, bucket)
	if err != nil {
		return err
	}

	local := filepath.Join(t.DownloadDir, filepath.Base(th.RetrievalID))
	if err := t.fetch(ctx, th.RetrievalID, local); err != nil {
		return err
	}
	defer func() {
		if err := workspace.Remove(local); err != nil {
			log.Warn("remove restored file", zap.Error(err))
		}
	}()

	if _, err := transfer.Upload(ctx, hot, local, th.ResultKey); err != nil {
		log.Error("restore upload failed", zap.String("error_code", transfer.Classify(err)))
		return fmt.Errorf("restore %s: %w", th.ResultKey, err)
	}
	if err := d.Ack(ctx); err != nil {
		return err
	}

	if err := t.Store.Update(ctx, th.JobID, jobs.Changes{RestoreMessage: jobs.Ptr("")}); err != nil {
		return fmt.Errorf("clear restore message: %w", err)
	}
	log.Info("result restored", zap.String("bucket", bucket), zap.String("key", th.ResultKey))
	return nil
}

func (t *Thawer) fetch(ctx context.Context, retrievalID, local string) error {
	rc, err := t.Archive.Fetch(ctx, retrievalID)
	if err != nil {
		return fmt.Errorf("fetch retrieval: %w", err)
	}
	defer func() { _ = rc.Close() }()

	if _, err := transfer.WriteFile(rc, local); err != nil {
		return fmt.Errorf("write restored file: %w", err)
	}
	return nil
}
