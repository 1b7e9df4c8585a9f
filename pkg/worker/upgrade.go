package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/annflow/pkg/archive"
	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/queue"
)

// DefaultRestoreMessage is shown on jobs whose result is being restored.
const DefaultRestoreMessage = "Your file is being restored from archive and will be available shortly."

// Upgrader handles subscription upgrade events by starting a retrieval for
// every archived result of the user.
type Upgrader struct {
	Store   jobs.Store
	Archive archive.Archive
	Thaws   queue.Publisher

	// Tiers is the retrieval fallback order.
	Tiers []archive.Tier

	// Limiter paces retrieval initiations; nil is unlimited.
	Limiter *rate.Limiter

	RestoreMessage string
	Logger         *zap.Logger
}

func (u *Upgrader) logger() *zap.Logger {
	if u.Logger == nil {
		return zap.NewNop()
	}
	return u.Logger
}

// Handle processes one upgrade. Any failure aborts the remaining jobs and
// leaves the message for redelivery.
func (u *Upgrader) Handle(ctx context.Context, d *Delivery) error {
	var up queue.Upgrade
	if err := queue.Decode(d.Message, &up); err != nil {
		return err
	}
	log := u.logger().With(zap.String("user_id", up.UserID), zap.String("message_id", d.ID))

	recs, err := u.Store.QueryByUser(ctx, up.UserID)
	if err != nil {
		return fmt.Errorf("list jobs for %s: %w", up.UserID, err)
	}

	msg := u.RestoreMessage
	if msg == "" {
		msg = DefaultRestoreMessage
	}

	restored := 0
	for _, rec := range recs {
		if rec.ArchiveID == "" {
			continue
		}
		if err := u.restore(ctx, log, rec, msg); err != nil {
			return err
		}
		restored++
	}
	log.Info("upgrade processed", zap.Int("jobs", len(recs)), zap.Int("retrievals", restored))
	return nil
}

func (u *Upgrader) restore(ctx context.Context, log *zap.Logger, rec jobs.Record, msg string) error {
	if u.Limiter != nil {
		if err := u.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	retrievalID, tier, err := archive.InitiateWithFallback(ctx, u.Archive, rec.ArchiveID, u.Tiers)
	if err != nil {
		return fmt.Errorf("initiate retrieval for %s: %w", rec.JobID, err)
	}

	payload, err := queue.Encode(queue.Thaw{RetrievalID: retrievalID, ResultKey: rec.ResultKey, JobID: rec.JobID})
	if err != nil {
		return err
	}
	if err := u.Thaws.Publish(ctx, payload, retrievalID); err != nil {
		return fmt.Errorf("publish thaw for %s: %w", rec.JobID, err)
	}
	if err := u.Store.Update(ctx, rec.JobID, jobs.Changes{RestoreMessage: jobs.Ptr(msg)}); err != nil {
		return fmt.Errorf("set restore message for %s: %w", rec.JobID, err)
	}

	log.Info("retrieval initiated",
		zap.String("job_id", rec.JobID),
		zap.String("retrieval_id", retrievalID),
		zap.String("tier", string(tier)),
	)
	return nil
}
