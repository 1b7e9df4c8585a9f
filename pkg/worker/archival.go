package worker

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/3leaps/annflow/pkg/archive"
	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/profile"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/transfer"
	"github.com/3leaps/annflow/pkg/workspace"
)

// Archiver handles completion events: free users' results move to the cold
// archive and the hot copy is deleted.
type Archiver struct {
	Store     jobs.Store
	Buckets   *provider.Registry
	Archive   archive.Archive
	Profiles  profile.Service
	Workspace *workspace.Manager
	Logger    *zap.Logger
}

func (a *Archiver) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *Archiver) Handle(ctx context.Context, d *Delivery) error {
	var c queue.Completion
	if err := queue.Decode(d.Message, &c); err != nil {
		return err
	}
	jobPath, err := jobs.JobPathFromKey(c.ResultKey)
	if err != nil {
		return &queue.MessageParseError{MessageID: d.ID, Reason: "bad result key", Err: err}
	}
	log := a.logger().With(zap.String("job_id", c.JobID), zap.String("message_id", d.ID))

	role, err := a.Profiles.GetRole(ctx, c.UserID)
	if err != nil {
		return fmt.Errorf("resolve role for %s: %w", c.UserID, err)
	}
	if role == profile.RolePremium {
		log.Info("premium user, result stays hot")
		return nil
	}

	hot, err := a.Buckets.Get(ctx, c.ResultsBucket)
	if err != nil {
		return err
	}

	rec, err := a.Store.Get(ctx, c.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if rec.ArchiveID != "" {
		// Redelivery after the archive write; finish the hot delete only.
		log.Info("result already archived", zap.String("archive_id", rec.ArchiveID))
		if err := d.Ack(ctx); err != nil {
			return err
		}
		a.deleteHot(ctx, log, hot, c.ResultKey)
		return nil
	}

	dir, err := a.Workspace.Create(jobPath, c.ResultKey, path.Base(c.ResultKey))
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	local := filepath.Join(dir, path.Base(c.ResultKey))

	if _, err := transfer.Download(ctx, hot, c.ResultKey, local); err != nil {
		log.Error("result download failed", zap.String("error_code", transfer.Classify(err)))
		return err
	}

	handle, err := a.archiveFile(ctx, local)
	if err != nil {
		_ = workspace.Remove(local)
		return err
	}
	log = log.With(zap.String("archive_id", handle))

	if err := a.Store.Update(ctx, c.JobID, jobs.Changes{ArchiveID: jobs.Ptr(handle)}); err != nil {
		_ = workspace.Remove(local)
		return fmt.Errorf("record archive id: %w", err)
	}
	log.Info("result archived")

	if err := workspace.Remove(local); err != nil {
		log.Warn("remove local copy", zap.Error(err))
	}
	if err := d.Ack(ctx); err != nil {
		return err
	}
	a.deleteHot(ctx, log, hot, c.ResultKey)
	return nil
}

func (a *Archiver) archiveFile(ctx context.Context, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", local, err)
	}
	defer func() { _ = f.Close() }()

	handle, err := a.Archive.Archive(ctx, f)
	if err != nil {
		return "", fmt.Errorf("archive result: %w", err)
	}
	return handle, nil
}

func (a *Archiver) deleteHot(ctx context.Context, log *zap.Logger, hot provider.Provider, key string) {
	if err := hot.DeleteObject(ctx, key); err != nil {
		if provider.IsNotFound(err) {
			log.Debug("hot result already deleted", zap.String("key", key))
			return
		}
		log.Error("delete hot result", zap.Error(err), zap.String("error_code", transfer.Classify(err)))
		return
	}
	log.Info("hot result deleted", zap.String("key", key))
}
