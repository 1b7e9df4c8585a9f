package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
		{StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" running ")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)

	_, err = ParseStatus("DONE")
	assert.Error(t, err)
}

func TestRecord_JSONFieldNames(t *testing.T) {
	rec := Record{JobID: "j1", UserID: "u1", Status: StatusCompleted, ResultKey: "a/u1/j1/j1~x.annot.vcf"}
	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "COMPLETED", m["job_status"])
	assert.Equal(t, "a/u1/j1/j1~x.annot.vcf", m["s3_key_result_file"])
	assert.NotContains(t, m, "results_file_archive_id")
}

func TestChanges(t *testing.T) {
	assert.True(t, Changes{}.Empty())

	rec := Record{RestoreMessage: "restoring", ArchiveID: "a1"}
	c := Changes{RestoreMessage: Ptr(""), CompleteTime: Ptr(int64(42))}
	assert.False(t, c.Empty())
	c.Apply(&rec)
	assert.Equal(t, "", rec.RestoreMessage)
	assert.Equal(t, int64(42), rec.CompleteTime)
	assert.Equal(t, "a1", rec.ArchiveID)
}

func newRecord(id, user string, st Status) *Record {
	return &Record{JobID: id, UserID: user, InputFileName: "test.vcf", Status: st}
}

func TestMemoryStore_TransitionGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, newRecord("j1", "u1", StatusPending)))

	require.NoError(t, s.Transition(ctx, "j1", StatusPending, StatusRunning, Changes{}))

	err := s.Transition(ctx, "j1", StatusPending, StatusRunning, Changes{})
	assert.True(t, IsConditionFailed(err), "stale guard must be rejected")

	err = s.Transition(ctx, "j1", StatusPending, StatusCompleted, Changes{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Transition(ctx, "j1", StatusRunning, StatusCompleted, Changes{ResultKey: Ptr("k")}))
	require.NoError(t, s.Transition(ctx, "j1", StatusCompleted, StatusCompleted, Changes{ResultKey: Ptr("k2")}))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "k2", got.ResultKey)

	err = s.Transition(ctx, "missing", StatusPending, StatusRunning, Changes{})
	assert.True(t, IsConditionFailed(err))
}

func TestMemoryStore_UpdateAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := newRecord("j2", "u1", StatusCompleted)
	a.SubmitTime = 20
	b := newRecord("j1", "u1", StatusCompleted)
	b.SubmitTime = 10
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))
	require.NoError(t, s.Put(ctx, newRecord("j3", "u2", StatusPending)))

	require.NoError(t, s.Update(ctx, "j1", Changes{ArchiveID: Ptr("arch-1")}))
	assert.True(t, IsNotFound(s.Update(ctx, "nope", Changes{ArchiveID: Ptr("x")})))

	recs, err := s.QueryByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "j1", recs[0].JobID)
	assert.Equal(t, "arch-1", recs[0].ArchiveID)
	assert.Equal(t, StatusCompleted, recs[0].Status)

	_, err = s.Get(ctx, "nope")
	assert.True(t, IsNotFound(err))

	assert.Error(t, s.Put(ctx, &Record{JobID: "x"}))
}
