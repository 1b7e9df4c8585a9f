package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedArchive struct {
	errs  map[Tier]error
	calls []Tier
}

func (s *scriptedArchive) Archive(ctx context.Context, body io.ReadSeeker) (string, error) {
	return "", nil
}

func (s *scriptedArchive) InitiateRetrieval(ctx context.Context, handle string, tier Tier) (string, error) {
	s.calls = append(s.calls, tier)
	if err := s.errs[tier]; err != nil {
		return "", err
	}
	return "r-" + string(tier), nil
}

func (s *scriptedArchive) Describe(ctx context.Context, id string) (RetrievalStatus, error) {
	return StatusInProgress, nil
}

func (s *scriptedArchive) Fetch(ctx context.Context, id string) (io.ReadCloser, error) {
	return nil, ErrNotReady
}

func capacity() error {
	return &ArchiveError{Op: "InitiateJob", Err: ErrCapacityExceeded}
}

func TestInitiateWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("fast tier accepted", func(t *testing.T) {
		a := &scriptedArchive{}
		id, tier, err := InitiateWithFallback(ctx, a, "A1", nil)
		require.NoError(t, err)
		assert.Equal(t, "r-Expedited", id)
		assert.Equal(t, TierExpedited, tier)
		assert.Equal(t, []Tier{TierExpedited}, a.calls)
	})

	t.Run("capacity falls back once", func(t *testing.T) {
		a := &scriptedArchive{errs: map[Tier]error{TierExpedited: capacity()}}
		id, tier, err := InitiateWithFallback(ctx, a, "A1", DefaultTiers)
		require.NoError(t, err)
		assert.Equal(t, "r-Standard", id)
		assert.Equal(t, TierStandard, tier)
		assert.Equal(t, []Tier{TierExpedited, TierStandard}, a.calls)
	})

	t.Run("slow tier failure is final", func(t *testing.T) {
		a := &scriptedArchive{errs: map[Tier]error{TierExpedited: capacity(), TierStandard: capacity()}}
		_, _, err := InitiateWithFallback(ctx, a, "A1", DefaultTiers)
		require.Error(t, err)
		assert.True(t, IsCapacityExceeded(err))
		assert.Len(t, a.calls, 2)
	})

	t.Run("other errors do not fall back", func(t *testing.T) {
		boom := errors.New("vault gone")
		a := &scriptedArchive{errs: map[Tier]error{TierExpedited: boom}}
		_, _, err := InitiateWithFallback(ctx, a, "A1", DefaultTiers)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []Tier{TierExpedited}, a.calls)
	})
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" expedited")
	require.NoError(t, err)
	assert.Equal(t, TierExpedited, tier)

	tier, err = ParseTier("STANDARD")
	require.NoError(t, err)
	assert.Equal(t, TierStandard, tier)

	_, err = ParseTier("instant")
	assert.Error(t, err)
}

func TestArchiveError(t *testing.T) {
	err := &ArchiveError{Op: "DescribeJob", ID: "r1", Err: ErrNotFound}
	assert.Equal(t, "archive DescribeJob r1: archive resource not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}
