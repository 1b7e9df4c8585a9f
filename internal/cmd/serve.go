package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/annflow/internal/config"
	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/internal/server"
	"github.com/3leaps/annflow/internal/server/handlers"
	"github.com/3leaps/annflow/pkg/worker"
)

// signalHealthChecker reports healthy while the process has not been asked
// to stop.
type signalHealthChecker struct {
	ctx context.Context
}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	if s.ctx != nil && s.ctx.Err() != nil {
		return fmt.Errorf("shutting down")
	}
	return nil
}

// runPoller runs p until SIGINT/SIGTERM, serving health endpoints when
// enabled.
func runPoller(parent context.Context, cfg *config.Config, p *worker.Poller, name string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	srvErr := make(chan error, 1)
	if cfg.Server.Enabled {
		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("signal", signalHealthChecker{ctx: ctx})
		hm.RegisterChecker(name, p)

		srv := server.New(cfg.Server.Host, cfg.Server.Port)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				srvErr <- err
				stop()
			}
		}()
	}

	err := p.Run(ctx)
	stop()
	wg.Wait()

	stats := p.Stats()
	observability.CLILogger.Info("Worker stopped",
		zap.String("worker", name),
		zap.Int64("received", stats.Received),
		zap.Int64("acked", stats.Acked),
		zap.Int64("retained", stats.Retained),
		zap.Int64("failed", stats.Failed),
		zap.Int64("parse_errors", stats.ParseErrors))

	select {
	case serr := <-srvErr:
		return exitError(foundry.ExitExternalServiceUnavailable, "Health server failed", serr)
	default:
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, name+" worker failed", err)
	}
	if parent.Err() == nil {
		observability.CLILogger.Info("Shutdown on signal", zap.String("worker", name))
	}
	return nil
}
