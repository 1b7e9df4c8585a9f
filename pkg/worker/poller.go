// Package worker implements the job lifecycle workers: the poll loop they
// share, the submission, archival, subscription upgrade and thaw completion
// handlers, and the completion reporter run by the pipeline wrapper.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/annflow/pkg/queue"
)

// Delivery is one received message handed to a Handler. A handler may Ack it
// early to order side effects after the delete, or Retain it to leave it for
// redelivery after the visibility timeout.
type Delivery struct {
	queue.Message

	consumer queue.Consumer
	acked    bool
	retained bool
}

// Ack deletes the message from its channel. Repeated calls are no-ops.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.acked {
		return nil
	}
	if err := d.consumer.Delete(ctx, d.ReceiptHandle); err != nil {
		return err
	}
	d.acked = true
	return nil
}

// Retain leaves the message undeleted.
func (d *Delivery) Retain() { d.retained = true }

// Acked reports whether the message was deleted.
func (d *Delivery) Acked() bool { return d.acked }

// Handler processes one delivery. Returning nil acks the delivery unless it
// was retained. On error the poller applies the ack-on-error policy, except
// that parse errors are always acked.
type Handler func(ctx context.Context, d *Delivery) error

// PollConfig configures one poll loop.
type PollConfig struct {
	// Name labels logs and health checks.
	Name string

	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration

	// Interval is slept between cycles.
	Interval time.Duration

	// AckOnError deletes messages whose handler failed.
	AckOnError bool

	// ErrorBackoff is slept after a failed receive. Default: 5s.
	ErrorBackoff time.Duration
}

// Stats are cumulative poll loop counters.
type Stats struct {
	Cycles      int64
	Received    int64
	Acked       int64
	Retained    int64
	Failed      int64
	ParseErrors int64
	LastPoll    time.Time
}

// Poller runs a Handler over a Consumer, one message at a time.
type Poller struct {
	consumer queue.Consumer
	handle   Handler
	cfg      PollConfig
	logger   *zap.Logger

	cycles      atomic.Int64
	received    atomic.Int64
	acked       atomic.Int64
	retained    atomic.Int64
	failed      atomic.Int64
	parseErrors atomic.Int64
	lastPoll    atomic.Int64
	receiveErr  atomic.Pointer[error]
}

func NewPoller(consumer queue.Consumer, handle Handler, cfg PollConfig, logger *zap.Logger) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{consumer: consumer, handle: handle, cfg: cfg, logger: logger}
}

// Run polls until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		zap.String("worker", p.cfg.Name),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("wait_time", p.cfg.WaitTime),
		zap.Duration("interval", p.cfg.Interval),
		zap.Bool("ack_on_error", p.cfg.AckOnError),
	)
	for {
		if ctx.Err() != nil {
			p.logger.Info("poller stopped", zap.String("worker", p.cfg.Name))
			return nil
		}

		pause := p.cfg.Interval
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Error("receive failed", zap.String("worker", p.cfg.Name), zap.Error(err))
			pause = p.cfg.ErrorBackoff
		}
		if pause > 0 {
			if err := sleep(ctx, pause); err != nil {
				continue
			}
		}
	}
}

// PollOnce performs one receive and processes the batch in order. It returns
// the number of messages received.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	msgs, err := p.consumer.Receive(ctx, queue.ReceiveOptions{
		MaxMessages:       p.cfg.BatchSize,
		WaitTime:          p.cfg.WaitTime,
		VisibilityTimeout: p.cfg.VisibilityTimeout,
	})
	p.cycles.Add(1)
	if err != nil {
		p.receiveErr.Store(&err)
		return 0, err
	}
	p.receiveErr.Store(nil)
	p.lastPoll.Store(time.Now().UnixNano())
	p.received.Add(int64(len(msgs)))

	for _, m := range msgs {
		p.process(ctx, m)
	}
	return len(msgs), nil
}

func (p *Poller) process(ctx context.Context, m queue.Message) {
	d := &Delivery{Message: m, consumer: p.consumer}
	log := p.logger.With(zap.String("worker", p.cfg.Name), zap.String("message_id", m.ID))

	err := p.safeHandle(ctx, d)

	ack := false
	switch {
	case err != nil && queue.IsParseError(err):
		p.parseErrors.Add(1)
		log.Warn("dropping malformed message", zap.Error(err))
		ack = true
	case err != nil:
		p.failed.Add(1)
		log.Error("message handling failed", zap.Error(err), zap.Bool("ack", p.cfg.AckOnError))
		ack = p.cfg.AckOnError
	case d.retained:
	default:
		ack = true
	}

	if ack && !d.acked {
		if derr := d.Ack(ctx); derr != nil {
			log.Error("delete message failed", zap.Error(derr))
		}
	}
	if d.acked {
		p.acked.Add(1)
	} else {
		p.retained.Add(1)
	}
}

func (p *Poller) safeHandle(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", p.cfg.Name, r)
		}
	}()
	return p.handle(ctx, d)
}

// Stats returns a snapshot of the counters.
func (p *Poller) Stats() Stats {
	s := Stats{
		Cycles:      p.cycles.Load(),
		Received:    p.received.Load(),
		Acked:       p.acked.Load(),
		Retained:    p.retained.Load(),
		Failed:      p.failed.Load(),
		ParseErrors: p.parseErrors.Load(),
	}
	if ns := p.lastPoll.Load(); ns > 0 {
		s.LastPoll = time.Unix(0, ns)
	}
	return s
}

// ErrStalled indicates the loop has not completed a receive recently.
var ErrStalled = errors.New("poll loop stalled")

// CheckHealth fails when the last receive failed or no receive has completed
// within a few poll periods.
func (p *Poller) CheckHealth(ctx context.Context) error {
	_ = ctx
	if errp := p.receiveErr.Load(); errp != nil {
		return fmt.Errorf("%s: last receive failed: %w", p.cfg.Name, *errp)
	}
	ns := p.lastPoll.Load()
	if ns == 0 {
		return nil
	}
	limit := 3*(p.cfg.WaitTime+p.cfg.Interval) + time.Minute
	if age := time.Since(time.Unix(0, ns)); age > limit {
		return fmt.Errorf("%w: %s idle for %s", ErrStalled, p.cfg.Name, age.Round(time.Second))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
