// Package memq is an in-process queue with visibility-timeout redelivery and
// publish deduplication. It backs tests and single-process local runs.
package memq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/annflow/pkg/queue"
)

const (
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultDedupWindow       = 5 * time.Minute
)

type entry struct {
	id             string
	body           string
	receipt        string
	invisibleUntil time.Time
	receiveCount   int
}

// Queue implements queue.Consumer and queue.Publisher.
type Queue struct {
	// Now is the clock. Tests replace it to step through visibility timeouts.
	Now func() time.Time

	visibility  time.Duration
	dedupWindow time.Duration

	mu      sync.Mutex
	entries []*entry
	dedup   map[string]time.Time
	notify  chan struct{}
}

var (
	_ queue.Consumer  = (*Queue)(nil)
	_ queue.Publisher = (*Queue)(nil)
)

// New creates a queue. Non-positive durations use the defaults.
func New(visibility, dedupWindow time.Duration) *Queue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Queue{
		Now:         time.Now,
		visibility:  visibility,
		dedupWindow: dedupWindow,
		dedup:       make(map[string]time.Time),
		notify:      make(chan struct{}),
	}
}

// Publish wraps payload in an envelope and enqueues it unless dedupID was
// already seen inside the dedup window.
func (q *Queue) Publish(ctx context.Context, payload []byte, dedupID string) error {
	_ = ctx
	id := uuid.NewString()
	body, err := queue.Wrap(payload, id)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	if dedupID != "" {
		if seen, ok := q.dedup[dedupID]; ok && now.Sub(seen) < q.dedupWindow {
			return nil
		}
		q.dedup[dedupID] = now
	}
	q.pushLocked(id, body)
	return nil
}

// SendRaw enqueues body as-is, bypassing the envelope.
func (q *Queue) SendRaw(body string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.pushLocked(id, body)
	return id
}

func (q *Queue) pushLocked(id, body string) {
	q.entries = append(q.entries, &entry{id: id, body: body})
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *Queue) Receive(ctx context.Context, opts queue.ReceiveOptions) ([]queue.Message, error) {
	limit := opts.MaxMessages
	if limit <= 0 {
		limit = 1
	}
	visibility := q.visibility
	if opts.VisibilityTimeout > 0 {
		visibility = opts.VisibilityTimeout
	}

	var deadline <-chan time.Time
	if opts.WaitTime > 0 {
		timer := time.NewTimer(opts.WaitTime)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		msgs := q.takeLocked(limit, visibility)
		wake := q.notify
		q.mu.Unlock()

		if len(msgs) > 0 || deadline == nil {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-wake:
		}
	}
}

func (q *Queue) takeLocked(limit int, visibility time.Duration) []queue.Message {
	now := q.Now()
	var out []queue.Message
	for _, e := range q.entries {
		if len(out) == limit {
			break
		}
		if now.Before(e.invisibleUntil) {
			continue
		}
		e.receipt = uuid.NewString()
		e.invisibleUntil = now.Add(visibility)
		e.receiveCount++
		out = append(out, queue.Message{
			ID:            e.id,
			Body:          e.body,
			ReceiptHandle: e.receipt,
			ReceiveCount:  e.receiveCount,
		})
	}
	return out
}

// Delete removes the delivery identified by receiptHandle. A handle from an
// earlier delivery of a redelivered message is rejected.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_ = ctx
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.receipt != "" && e.receipt == receiptHandle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return queue.ErrInvalidReceipt
}

// Len returns the number of undeleted messages, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Visible returns the number of messages a Receive would return now.
func (q *Queue) Visible() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.Now()
	n := 0
	for _, e := range q.entries {
		if !now.Before(e.invisibleUntil) {
			n++
		}
	}
	return n
}
