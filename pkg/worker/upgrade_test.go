package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/3leaps/annflow/pkg/archive"
	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/queue"
)

// archived seeds a completed job whose result lives only in the archive.
func (e *env) archived(jobID, user, body string) *jobs.Record {
	e.t.Helper()
	rec := e.seedCompleted(jobID, user, body)
	handle, err := e.archive.Archive(e.ctx, strings.NewReader(body))
	require.NoError(e.t, err)
	require.NoError(e.t, e.store.Update(e.ctx, jobID, jobs.Changes{ArchiveID: jobs.Ptr(handle)}))
	hot, err := e.buckets.Get(e.ctx, resultsBucket)
	require.NoError(e.t, err)
	require.NoError(e.t, hot.DeleteObject(e.ctx, rec.ResultKey))
	rec.ArchiveID = handle
	return rec
}

func TestUpgrader_InitiatesRetrievalPerArchivedJob(t *testing.T) {
	e := newEnv(t)
	a1 := e.archived("J1", "U1", "one")
	a2 := e.archived("J2", "U1", "two")
	e.seedCompleted("J3", "U1", "hot")
	e.archived("J4", "U2", "other user")
	e.publish(e.upgrades, queue.Upgrade{UserID: "U1"}, "")

	p := e.poller(e.upgrades, e.upgrader().Handle, false)
	_, err := p.PollOnce(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, e.upgrades.Len())

	inits := e.archive.Initiations()
	require.Len(t, inits, 2)
	assert.ElementsMatch(t, []string{a1.ArchiveID, a2.ArchiveID}, []string{inits[0].Handle, inits[1].Handle})
	for _, in := range inits {
		assert.Equal(t, archive.TierExpedited, in.Tier)
	}

	msgs, err := e.thaws.Receive(e.ctx, queue.ReceiveOptions{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		var th queue.Thaw
		require.NoError(t, queue.Decode(m, &th))
		assert.Contains(t, []string{"J1", "J2"}, th.JobID)
		assert.Equal(t, e.job(th.JobID).ResultKey, th.ResultKey)
	}

	assert.Equal(t, DefaultRestoreMessage, e.job("J1").RestoreMessage)
	assert.Equal(t, DefaultRestoreMessage, e.job("J2").RestoreMessage)
	assert.Empty(t, e.job("J3").RestoreMessage)
	assert.Empty(t, e.job("J4").RestoreMessage)
}

func TestUpgrader_FallsBackOnceOnCapacity(t *testing.T) {
	e := newEnv(t)
	e.archived("J1", "U1", "one")
	e.archive.RejectTier(archive.TierExpedited)
	e.publish(e.upgrades, queue.Upgrade{UserID: "U1"}, "")

	p := e.poller(e.upgrades, e.upgrader().Handle, false)
	_, err := p.PollOnce(e.ctx)
	require.NoError(t, err)

	inits := e.archive.Initiations()
	require.Len(t, inits, 2)
	assert.Equal(t, archive.TierExpedited, inits[0].Tier)
	assert.ErrorIs(t, inits[0].Err, archive.ErrCapacityExceeded)
	assert.Equal(t, archive.TierStandard, inits[1].Tier)
	assert.NoError(t, inits[1].Err)
	assert.Equal(t, 1, e.thaws.Len())
}

func TestUpgrader_FailureRetainsMessage(t *testing.T) {
	e := newEnv(t)
	e.archived("J1", "U1", "one")
	require.NoError(t, e.store.Update(e.ctx, "J1", jobs.Changes{ArchiveID: jobs.Ptr("missing-archive")}))
	e.publish(e.upgrades, queue.Upgrade{UserID: "U1"}, "")

	p := e.poller(e.upgrades, e.upgrader().Handle, false)
	_, err := p.PollOnce(e.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, e.upgrades.Len())
	assert.Equal(t, 0, e.thaws.Len())
	assert.Empty(t, e.job("J1").RestoreMessage)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestUpgrader_UserWithoutArchivesIsAcked(t *testing.T) {
	e := newEnv(t)
	e.seedCompleted("J1", "U1", "hot")
	e.publish(e.upgrades, queue.Upgrade{UserID: "U1"}, "")

	u := e.upgrader()
	u.Limiter = rate.NewLimiter(rate.Inf, 1)
	p := e.poller(e.upgrades, u.Handle, false)
	_, err := p.PollOnce(e.ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, e.upgrades.Len())
	assert.Empty(t, e.archive.Initiations())
}
