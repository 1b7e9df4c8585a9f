// Package memarchive is an in-process cold archive whose retrieval states are
// driven explicitly, for tests and local runs.
package memarchive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/3leaps/annflow/pkg/archive"
)

// Initiation records one InitiateRetrieval call.
type Initiation struct {
	Handle      string
	Tier        archive.Tier
	RetrievalID string
	Err         error
}

type retrieval struct {
	handle string
	status archive.RetrievalStatus
}

// Archive implements archive.Archive in memory.
type Archive struct {
	mu          sync.Mutex
	archives    map[string][]byte
	retrievals  map[string]*retrieval
	rejected    map[archive.Tier]bool
	initiations []Initiation
}

var _ archive.Archive = (*Archive)(nil)

func New() *Archive {
	return &Archive{
		archives:   make(map[string][]byte),
		retrievals: make(map[string]*retrieval),
		rejected:   make(map[archive.Tier]bool),
	}
}

func (a *Archive) Archive(ctx context.Context, body io.ReadSeeker) (string, error) {
	_ = ctx
	b, err := io.ReadAll(body)
	if err != nil {
		return "", &archive.ArchiveError{Op: "Archive", Err: err}
	}
	id := uuid.NewString()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.archives[id] = b
	return id, nil
}

func (a *Archive) InitiateRetrieval(ctx context.Context, handle string, tier archive.Tier) (string, error) {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rejected[tier] {
		err := &archive.ArchiveError{Op: "InitiateRetrieval", ID: handle, Err: archive.ErrCapacityExceeded}
		a.initiations = append(a.initiations, Initiation{Handle: handle, Tier: tier, Err: err})
		return "", err
	}
	if _, ok := a.archives[handle]; !ok {
		err := &archive.ArchiveError{Op: "InitiateRetrieval", ID: handle, Err: archive.ErrNotFound}
		a.initiations = append(a.initiations, Initiation{Handle: handle, Tier: tier, Err: err})
		return "", err
	}
	id := uuid.NewString()
	a.retrievals[id] = &retrieval{handle: handle, status: archive.StatusInProgress}
	a.initiations = append(a.initiations, Initiation{Handle: handle, Tier: tier, RetrievalID: id})
	return id, nil
}

func (a *Archive) Describe(ctx context.Context, retrievalID string) (archive.RetrievalStatus, error) {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.retrievals[retrievalID]
	if !ok {
		return "", &archive.ArchiveError{Op: "Describe", ID: retrievalID, Err: archive.ErrNotFound}
	}
	return r.status, nil
}

func (a *Archive) Fetch(ctx context.Context, retrievalID string) (io.ReadCloser, error) {
	_ = ctx
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.retrievals[retrievalID]
	if !ok {
		return nil, &archive.ArchiveError{Op: "Fetch", ID: retrievalID, Err: archive.ErrNotFound}
	}
	if r.status != archive.StatusSucceeded {
		return nil, &archive.ArchiveError{Op: "Fetch", ID: retrievalID, Err: archive.ErrNotReady}
	}
	return io.NopCloser(bytes.NewReader(a.archives[r.handle])), nil
}

// RejectTier makes InitiateRetrieval fail with ErrCapacityExceeded for tier.
func (a *Archive) RejectTier(tier archive.Tier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected[tier] = true
}

// SetStatus moves a retrieval to status.
func (a *Archive) SetStatus(retrievalID string, status archive.RetrievalStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.retrievals[retrievalID]
	if !ok {
		return fmt.Errorf("unknown retrieval %s", retrievalID)
	}
	r.status = status
	return nil
}

// Initiations returns a copy of every InitiateRetrieval call so far.
func (a *Archive) Initiations() []Initiation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Initiation(nil), a.initiations...)
}

// Len returns the number of stored archives.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.archives)
}
