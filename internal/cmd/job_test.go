package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/provider/file"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/queue/memq"
)

func TestCreateJob(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "sample.vcf")
	require.NoError(t, os.WriteFile(src, []byte("##fileformat=VCFv4.2\n"), 0644))

	store := jobs.NewMemoryStore()
	buckets := provider.NewRegistry(file.Opener(root))
	defer func() { _ = buckets.Close() }()
	requests := memq.New(0, 0)
	now := time.Unix(1700000000, 0)

	rec, err := createJob(ctx, newJob{
		Store:    store,
		Buckets:  buckets,
		Requests: requests,
		Bucket:   "gas-inputs",
		Account:  "acct",
		User:     "U1",
		Email:    "u1@example.com",
		File:     src,
		Now:      now,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.JobID)
	assert.Equal(t, jobs.StatusPending, rec.Status)
	assert.Equal(t, "sample.vcf", rec.InputFileName)
	assert.Equal(t, "acct/U1/"+rec.JobID+"~sample.vcf", rec.InputKey)
	assert.Equal(t, now.Unix(), rec.SubmitTime)

	stored, err := store.Get(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec, stored)

	b, err := os.ReadFile(filepath.Join(root, "gas-inputs", filepath.FromSlash(rec.InputKey)))
	require.NoError(t, err)
	assert.Equal(t, "##fileformat=VCFv4.2\n", string(b))

	msgs, err := requests.Receive(ctx, queue.ReceiveOptions{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var req queue.JobRequest
	require.NoError(t, queue.Decode(msgs[0], &req))
	assert.Equal(t, rec.JobID, req.JobID)
	assert.Equal(t, rec.InputKey, req.InputKey)
	assert.Equal(t, jobs.StatusPending, req.Status)
}

func TestCreateJob_MissingFileStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemoryStore()
	buckets := provider.NewRegistry(file.Opener(t.TempDir()))
	requests := memq.New(0, 0)

	_, err := createJob(ctx, newJob{
		Store:    store,
		Buckets:  buckets,
		Requests: requests,
		Bucket:   "gas-inputs",
		Account:  "acct",
		User:     "U1",
		File:     filepath.Join(t.TempDir(), "absent.vcf"),
		Now:      time.Now(),
	})
	require.Error(t, err)

	recs, err := store.QueryByUser(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 0, requests.Len())
}

func TestPrintJobTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJobTable(&buf, []jobs.Record{
		{JobID: "J1", Status: jobs.StatusCompleted, InputFileName: "a.vcf", ArchiveID: "arch-1"},
		{JobID: "J2", Status: jobs.StatusPending, InputFileName: "b.vcf", RestoreMessage: "restoring"},
	}))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "JOB ID")
	assert.Contains(t, out, "J1")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "restoring")
	assert.Contains(t, out, "1970-01-01T00:00:00Z")
}
