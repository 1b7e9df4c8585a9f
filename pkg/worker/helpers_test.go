package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/3leaps/annflow/pkg/archive/memarchive"
	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/pipeline"
	"github.com/3leaps/annflow/pkg/profile"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/provider/file"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/queue/memq"
	"github.com/3leaps/annflow/pkg/workspace"
)

const (
	inputsBucket  = "gas-inputs"
	resultsBucket = "gas-results"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeLauncher) Launch(ctx context.Context, logDir, inputPath, jobID string) (*pipeline.Launch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inputPath)
	if f.err != nil {
		return nil, f.err
	}
	done := make(chan struct{})
	close(done)
	return &pipeline.Launch{StdoutPath: filepath.Join(logDir, "stdout.log"), Done: done}, nil
}

func (f *fakeLauncher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// env wires every worker to in-memory collaborators.
type env struct {
	t     *testing.T
	ctx   context.Context
	clock *clock

	store    *jobs.MemoryStore
	buckets  *provider.Registry
	archive  *memarchive.Archive
	profiles *profile.Static
	ws       *workspace.Manager
	launcher *fakeLauncher

	requests    *memq.Queue
	completions *memq.Queue
	upgrades    *memq.Queue
	thaws       *memq.Queue

	downloadDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	newQ := func() *memq.Queue {
		q := memq.New(30*time.Second, 5*time.Minute)
		q.Now = c.now
		return q
	}
	root := t.TempDir()
	e := &env{
		t:           t,
		ctx:         context.Background(),
		clock:       c,
		store:       jobs.NewMemoryStore(),
		buckets:     provider.NewRegistry(file.Opener(filepath.Join(root, "buckets"))),
		archive:     memarchive.New(),
		profiles:    profile.NewStatic(map[string]profile.Role{"U1": profile.RoleFree, "P1": profile.RolePremium}),
		ws:          workspace.New(filepath.Join(root, "job_data")),
		launcher:    &fakeLauncher{},
		requests:    newQ(),
		completions: newQ(),
		upgrades:    newQ(),
		thaws:       newQ(),
		downloadDir: filepath.Join(root, "thaw"),
	}
	t.Cleanup(func() { _ = e.buckets.Close() })
	return e
}

func (e *env) submitter() *Submitter {
	return &Submitter{Store: e.store, Buckets: e.buckets, Workspace: e.ws, Launcher: e.launcher}
}

func (e *env) reporter() *Reporter {
	return &Reporter{
		Store:         e.store,
		Buckets:       e.buckets,
		ResultsBucket: resultsBucket,
		Completions:   e.completions,
		Now:           e.clock.now,
	}
}

func (e *env) archiver() *Archiver {
	return &Archiver{Store: e.store, Buckets: e.buckets, Archive: e.archive, Profiles: e.profiles, Workspace: e.ws}
}

func (e *env) upgrader() *Upgrader {
	return &Upgrader{Store: e.store, Archive: e.archive, Thaws: e.thaws}
}

func (e *env) thawer() *Thawer {
	return &Thawer{
		Store:         e.store,
		Archive:       e.archive,
		Buckets:       e.buckets,
		ResultsBucket: resultsBucket,
		DownloadDir:   e.downloadDir,
	}
}

func (e *env) poller(q *memq.Queue, h Handler, ackOnError bool) *Poller {
	return NewPoller(q, h, PollConfig{Name: "test", BatchSize: 10, AckOnError: ackOnError}, nil)
}

func (e *env) putObject(bucket, key, body string) {
	e.t.Helper()
	p, err := e.buckets.Get(e.ctx, bucket)
	require.NoError(e.t, err)
	require.NoError(e.t, p.PutObject(e.ctx, key, strings.NewReader(body), int64(len(body))))
}

func (e *env) readObject(bucket, key string) (string, error) {
	p, err := e.buckets.Get(e.ctx, bucket)
	require.NoError(e.t, err)
	rc, _, err := p.GetObject(e.ctx, key)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	return string(b), err
}

func (e *env) job(id string) *jobs.Record {
	e.t.Helper()
	rec, err := e.store.Get(e.ctx, id)
	require.NoError(e.t, err)
	return rec
}

func (e *env) publish(q *memq.Queue, payload any, dedupID string) {
	e.t.Helper()
	b, err := queue.Encode(payload)
	require.NoError(e.t, err)
	require.NoError(e.t, q.Publish(e.ctx, b, dedupID))
}

// seedPending writes a PENDING record and its input object, like the web tier.
func (e *env) seedPending(jobID, user string) queue.JobRequest {
	e.t.Helper()
	name := jobID + "~test.vcf"
	key := "acct/" + user + "/" + name
	require.NoError(e.t, e.store.Put(e.ctx, &jobs.Record{
		JobID:         jobID,
		UserID:        user,
		InputFileName: name,
		InputsBucket:  inputsBucket,
		InputKey:      key,
		SubmitTime:    e.clock.now().Unix(),
		Status:        jobs.StatusPending,
	}))
	e.putObject(inputsBucket, key, "##fileformat=VCFv4.1\n")
	return queue.JobRequest{
		JobID:         jobID,
		UserID:        user,
		InputFileName: name,
		InputsBucket:  inputsBucket,
		InputKey:      key,
		Status:        jobs.StatusPending,
	}
}

// seedCompleted writes a COMPLETED record and its hot result.
func (e *env) seedCompleted(jobID, user, body string) *jobs.Record {
	e.t.Helper()
	rec := &jobs.Record{
		JobID:         jobID,
		UserID:        user,
		InputFileName: jobID + "~test.vcf",
		InputsBucket:  inputsBucket,
		InputKey:      "acct/" + user + "/" + jobID + "~test.vcf",
		Status:        jobs.StatusCompleted,
		ResultsBucket: resultsBucket,
		ResultKey:     "acct/" + user + "/" + jobID + "/" + jobID + "~test.annot.vcf",
		LogKey:        "acct/" + user + "/" + jobID + "/" + jobID + "~test.vcf.count.log",
		CompleteTime:  e.clock.now().Unix(),
	}
	require.NoError(e.t, e.store.Put(e.ctx, rec))
	e.putObject(resultsBucket, rec.ResultKey, body)
	return rec
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}
