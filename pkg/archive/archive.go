// Package archive defines the cold archive contract: write-once archival,
// delayed retrieval by tier, and bounded tier fallback.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Tier is a retrieval speed/cost class.
type Tier string

const (
	TierExpedited Tier = "Expedited"
	TierStandard  Tier = "Standard"
	TierBulk      Tier = "Bulk"
)

// DefaultTiers is the fallback order: fast first, then slow.
var DefaultTiers = []Tier{TierExpedited, TierStandard}

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expedited":
		return TierExpedited, nil
	case "standard":
		return TierStandard, nil
	case "bulk":
		return TierBulk, nil
	}
	return "", fmt.Errorf("unknown retrieval tier %q", s)
}

// RetrievalStatus is the state of a retrieval job.
type RetrievalStatus string

const (
	StatusInProgress RetrievalStatus = "InProgress"
	StatusSucceeded  RetrievalStatus = "Succeeded"
	StatusFailed     RetrievalStatus = "Failed"
)

var (
	// ErrCapacityExceeded indicates the archive refused a retrieval tier for
	// lack of capacity.
	ErrCapacityExceeded = errors.New("retrieval capacity exceeded")

	// ErrNotFound indicates an unknown archive or retrieval id.
	ErrNotFound = errors.New("archive resource not found")

	// ErrNotReady indicates a fetch before the retrieval succeeded.
	ErrNotReady = errors.New("retrieval not ready")
)

// ArchiveError wraps a failed archive call.
type ArchiveError struct {
	Op  string
	ID  string
	Err error
}

func (e *ArchiveError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("archive %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("archive %s: %v", e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// IsCapacityExceeded reports whether err is a tier capacity rejection.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

// Archive is the cold store.
type Archive interface {
	// Archive stores the body and returns its handle.
	Archive(ctx context.Context, body io.ReadSeeker) (string, error)

	// InitiateRetrieval starts an asynchronous retrieval of handle.
	InitiateRetrieval(ctx context.Context, handle string, tier Tier) (string, error)

	// Describe reports the current retrieval status.
	Describe(ctx context.Context, retrievalID string) (RetrievalStatus, error)

	// Fetch streams the restored bytes of a succeeded retrieval.
	Fetch(ctx context.Context, retrievalID string) (io.ReadCloser, error)
}

// InitiateWithFallback tries each tier in order, moving on only when the
// archive reports ErrCapacityExceeded. Any other error stops immediately. It
// returns the retrieval id and the tier that was accepted.
func InitiateWithFallback(ctx context.Context, a Archive, handle string, tiers []Tier) (string, Tier, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	var lastErr error
	for _, tier := range tiers {
		id, err := a.InitiateRetrieval(ctx, handle, tier)
		if err == nil {
			return id, tier, nil
		}
		if !IsCapacityExceeded(err) {
			return "", tier, err
		}
		lastErr = err
	}
	return "", tiers[len(tiers)-1], lastErr
}
