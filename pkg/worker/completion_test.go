package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/pipeline"
	"github.com/3leaps/annflow/pkg/queue"
)

func finishedRun(t *testing.T, e *env, jobID, user string) Run {
	t.Helper()
	dir, err := e.ws.Dir("acct/" + user + "/" + jobID)
	require.NoError(t, err)
	input := filepath.Join(dir, jobID+"~test.vcf")
	result := filepath.Join(dir, jobID+"~test.annot.vcf")
	log := filepath.Join(dir, jobID+"~test.vcf.count.log")
	writeFile(t, input, "input")
	writeFile(t, result, "annotated")
	writeFile(t, log, "counts")
	return Run{
		JobID:     jobID,
		Account:   "acct",
		User:      user,
		InputPath: input,
		Outputs:   pipeline.Outputs{Result: result, Log: log},
	}
}

func TestReporter_CompletesRunningJob(t *testing.T) {
	e := newEnv(t)
	e.seedPending("J1", "U1")
	require.NoError(t, e.store.Transition(e.ctx, "J1", jobs.StatusPending, jobs.StatusRunning, jobs.Changes{}))
	run := finishedRun(t, e, "J1", "U1")

	rec, err := e.reporter().Report(e.ctx, run)
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	assert.Equal(t, resultsBucket, rec.ResultsBucket)
	assert.Equal(t, "acct/U1/J1/J1~test.annot.vcf", rec.ResultKey)
	assert.Equal(t, "acct/U1/J1/J1~test.vcf.count.log", rec.LogKey)
	assert.Equal(t, e.clock.now().Unix(), rec.CompleteTime)

	body, err := e.readObject(resultsBucket, rec.ResultKey)
	require.NoError(t, err)
	assert.Equal(t, "annotated", body)
	body, err = e.readObject(resultsBucket, rec.LogKey)
	require.NoError(t, err)
	assert.Equal(t, "counts", body)

	_, err = os.Stat(run.Outputs.Result)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(run.Outputs.Log)
	assert.True(t, os.IsNotExist(err))

	msgs, err := e.completions.Receive(e.ctx, queue.ReceiveOptions{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var c queue.Completion
	require.NoError(t, queue.Decode(msgs[0], &c))
	assert.Equal(t, "J1", c.JobID)
	assert.Equal(t, rec.ResultKey, c.ResultKey)
	assert.Equal(t, jobs.StatusCompleted, c.Status)
}

func TestReporter_PendingJobAdvancesThroughRunning(t *testing.T) {
	e := newEnv(t)
	e.seedPending("J1", "U1")
	run := finishedRun(t, e, "J1", "U1")

	rec, err := e.reporter().Report(e.ctx, run)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
}

func TestReporter_DuplicateCompletionOverwrites(t *testing.T) {
	e := newEnv(t)
	e.seedPending("J1", "U1")
	require.NoError(t, e.store.Transition(e.ctx, "J1", jobs.StatusPending, jobs.StatusRunning, jobs.Changes{}))

	_, err := e.reporter().Report(e.ctx, finishedRun(t, e, "J1", "U1"))
	require.NoError(t, err)

	e.clock.advance(time.Minute)
	rec, err := e.reporter().Report(e.ctx, finishedRun(t, e, "J1", "U1"))
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)

	// Completion events are deduplicated by job id.
	assert.Equal(t, 1, e.completions.Len())
}

func TestReporter_FailedJobStaysFailed(t *testing.T) {
	e := newEnv(t)
	e.seedPending("J1", "U1")
	require.NoError(t, e.store.Transition(e.ctx, "J1", jobs.StatusPending, jobs.StatusFailed, jobs.Changes{}))

	_, err := e.reporter().Report(e.ctx, finishedRun(t, e, "J1", "U1"))
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Equal(t, jobs.StatusFailed, e.job("J1").Status)
	assert.Equal(t, 0, e.completions.Len())
}

func TestReporter_MissingOutputMarksFailed(t *testing.T) {
	e := newEnv(t)
	e.seedPending("J1", "U1")
	require.NoError(t, e.store.Transition(e.ctx, "J1", jobs.StatusPending, jobs.StatusRunning, jobs.Changes{}))
	run := finishedRun(t, e, "J1", "U1")
	require.NoError(t, os.Remove(run.Outputs.Result))

	_, err := e.reporter().Report(e.ctx, run)
	require.Error(t, err)
	assert.Equal(t, jobs.StatusFailed, e.job("J1").Status)
	assert.Equal(t, 0, e.completions.Len())
}
