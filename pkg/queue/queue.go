// Package queue defines the at-least-once message channel contract used by the
// workers, the two-layer envelope codec, and the event payloads.
package queue

import (
	"context"
	"errors"
	"time"
)

// Message is one received delivery. ReceiptHandle identifies this delivery
// and is required to delete it.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

// ReceiveOptions bounds one receive call.
type ReceiveOptions struct {
	// MaxMessages caps the batch size.
	MaxMessages int

	// WaitTime is the long-poll bound. Zero returns immediately.
	WaitTime time.Duration

	// VisibilityTimeout overrides the channel default when positive.
	VisibilityTimeout time.Duration
}

// Consumer receives and deletes messages from one channel.
type Consumer interface {
	Receive(ctx context.Context, opts ReceiveOptions) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Publisher sends payloads to one channel. dedupID collapses repeated
// publishes of the same logical event where the channel supports it.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, dedupID string) error
}

var (
	// ErrQueueNotFound indicates the channel does not exist.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrInvalidReceipt indicates a receipt handle that no longer matches a
	// visible-to-us delivery.
	ErrInvalidReceipt = errors.New("invalid receipt handle")

	// ErrThrottled indicates the channel rate limited the call.
	ErrThrottled = errors.New("request throttled")
)
