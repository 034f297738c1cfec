// Package worker provides goroutine pool management.
//
// Coding standard: naked goroutines are forbidden inside the storage
// engine; concurrent fan-out (the archive coordinator's per-stream
// traversal, §4.5) goes through a Pool with context propagation.
//
// Import Path: eventcore.dev/eventcore/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"eventcore.dev/eventcore/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection used by the archive coordinator.
type Pools struct {
	// Archive bounds the concurrency of the coordinator's per-stream
	// archive fan-out (spec §5: "parallel threads ... permitted
	// system-wide"); correctness across concurrent streams is still
	// enforced by the per-segment overlap check, not by this pool.
	Archive *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	ArchivePoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{ArchivePoolSize: 20}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	archiveAnts, err := ants.NewPool(cfg.ArchivePoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	return &Pools{
		Archive:       &Pool{pool: archiveAnts, name: "archive"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task.
// The task receives the caller's context and should check ctx.Done() at
// blocking points. If context is already cancelled, returns ctx.Err()
// immediately without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
}

// SubmitDetached submits a task bound to the pool collection's service
// lifecycle context instead of a caller-supplied one. Use this for
// periodic/background work (e.g. a triggered archive run) that should
// survive the triggering request but still respect shutdown.
func (p *Pools) SubmitDetached(task Task) error {
	return p.Archive.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("detached task skipped: service shutting down",
				zap.String("pool", p.Archive.name),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Shutdown gracefully shuts down the pool with a timeout.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.Archive.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("archive pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]int {
	return map[string]int{
		"running": p.Archive.pool.Running(),
		"free":    p.Archive.pool.Free(),
		"cap":     p.Archive.pool.Cap(),
	}
}
