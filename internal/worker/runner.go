package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/ai"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/lease"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/logging"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/metrics"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
)

type RunnerConfig struct {
	Repo      repository.BatchRepository
	Contents  repository.RegionContentStore
	Generator ai.ContentGenerator
	Locker    lease.Locker
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time

	ItemDelay         time.Duration
	RetryBackoff      time.Duration
	GenerationTimeout time.Duration
	LeaseTTL          time.Duration
}

// Runner owns the per-batch worker loops of this process. A batch is drained
// by at most one loop: locally through the loops map, across processes
// through the lease.
type Runner struct {
	repo      repository.BatchRepository
	contents  repository.RegionContentStore
	generator ai.ContentGenerator
	locker    lease.Locker
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	itemDelay         time.Duration
	retryBackoff      time.Duration
	generationTimeout time.Duration
	leaseTTL          time.Duration

	root       context.Context
	cancelRoot context.CancelFunc

	mu     sync.Mutex
	loops  map[string]*loopHandle
	closed bool
	wg     sync.WaitGroup
}

// loopHandle tracks a registered loop. rerun is set when Spawn finds the loop
// still registered, since it may already have read a stale status.
type loopHandle struct {
	cancel context.CancelFunc
	rerun  bool
}

func NewRunner(config RunnerConfig) *Runner {
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if config.Locker == nil {
		config.Locker = lease.NewLocalLocker()
	}
	if config.Contents == nil {
		config.Contents = repository.NewMemoryRegionContentStore()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNop()
	}
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = 2 * time.Minute
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = time.Minute
	}

	root, cancel := context.WithCancel(context.Background())
	return &Runner{
		repo:              config.Repo,
		contents:          config.Contents,
		generator:         config.Generator,
		locker:            config.Locker,
		metrics:           config.Metrics,
		logger:            logging.OrNop(config.Logger),
		now:               config.Now,
		itemDelay:         config.ItemDelay,
		retryBackoff:      config.RetryBackoff,
		generationTimeout: config.GenerationTimeout,
		leaseTTL:          config.LeaseTTL,
		root:              root,
		cancelRoot:        cancel,
		loops:             make(map[string]*loopHandle),
	}
}

// Spawn starts the loop for batchID unless one already runs here. It reports
// whether a new loop was started. When a loop is still registered, it is
// flagged to run once more after it exits.
func (r *Runner) Spawn(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if handle, running := r.loops[batchID]; running {
		handle.rerun = true
		return false
	}
	r.startLocked(batchID)
	return true
}

// startLocked registers and starts a loop. r.mu must be held.
func (r *Runner) startLocked(batchID string) {
	ctx, cancel := context.WithCancel(r.root)
	r.loops[batchID] = &loopHandle{cancel: cancel}
	r.wg.Add(1)
	r.metrics.ActiveLoops.Inc()

	go func() {
		defer r.finish(batchID)
		r.run(ctx, batchID)
	}()
}

// Resume re-spawns loops for every batch persisted as running, so a restart
// continues where the previous process stopped.
func (r *Runner) Resume(ctx context.Context) (int, error) {
	ids, err := r.repo.ListRunningBatchIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running batches: %w", err)
	}
	spawned := 0
	for _, id := range ids {
		if r.Spawn(id) {
			spawned++
		}
	}
	if spawned > 0 {
		r.logger.Info("resumed batch loops", zap.Int("count", spawned))
	}
	return spawned, nil
}

// Shutdown cancels every loop and waits for them to return. Items interrupted
// mid-generation stay processing and are recovered by the next loop.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancelRoot()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for batch loops: %w", ctx.Err())
	}
}

// Wait blocks until every loop started so far has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) ActiveBatches() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.loops))
	for id := range r.loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// finish runs after the loop released its lease. A loop flagged for rerun is
// started again before the lock is dropped.
func (r *Runner) finish(batchID string) {
	r.mu.Lock()
	handle, ok := r.loops[batchID]
	if ok {
		handle.cancel()
		delete(r.loops, batchID)
	}
	if ok && handle.rerun && !r.closed {
		r.startLocked(batchID)
	}
	r.mu.Unlock()
	r.metrics.ActiveLoops.Dec()
	r.wg.Done()
}

func (r *Runner) run(ctx context.Context, batchID string) {
	logger := r.logger.With(zap.String("batch_id", batchID))

	held, err := r.locker.Acquire(ctx, "batch:"+batchID, r.leaseTTL)
	if errors.Is(err, lease.ErrNotAcquired) {
		logger.Info("batch owned by another worker, skipping")
		return
	}
	if err != nil {
		r.failBatch(batchID, fmt.Errorf("acquire batch lease: %w", err), logger)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil {
			logger.Warn("release batch lease failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.keepLease(ctx, cancel, held, logger)

	recovered, err := r.repo.RecoverProcessing(ctx, batchID, r.now())
	if err != nil {
		r.failBatchUnlessCancelled(ctx, batchID, fmt.Errorf("recover processing items: %w", err), logger)
		return
	}
	if recovered > 0 {
		logger.Info("recovered interrupted items", zap.Int("count", recovered))
	}

	logger.Info("batch loop started")
	if err := r.drain(ctx, batchID, logger); err != nil {
		r.failBatchUnlessCancelled(ctx, batchID, err, logger)
		return
	}
	logger.Info("batch loop stopped")
}

// drain processes items until the batch leaves running or the queue is empty.
func (r *Runner) drain(ctx context.Context, batchID string, logger *zap.Logger) error {
	limit := rate.Inf
	if r.itemDelay > 0 {
		limit = rate.Every(r.itemDelay)
	}
	throttle := rate.NewLimiter(limit, 1)

	for {
		if err := throttle.Wait(ctx); err != nil {
			return nil
		}

		batch, err := r.repo.GetBatch(ctx, batchID)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("batch removed, loop exiting")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read batch: %w", err)
		}
		if batch.Status != domain.BatchStatusRunning {
			logger.Info("batch no longer running", zap.String("status", string(batch.Status)))
			return r.refreshStats(ctx, batchID)
		}

		item, err := r.repo.ClaimNextItem(ctx, batchID, r.now())
		if err != nil {
			return fmt.Errorf("claim next item: %w", err)
		}
		if item == nil {
			return r.complete(ctx, batchID, logger)
		}

		if err := r.processQueueItem(ctx, batch, item, logger); err != nil {
			if errors.Is(err, errInterrupted) {
				return nil
			}
			return err
		}
		if err := r.refreshStats(ctx, batchID); err != nil {
			return err
		}
	}
}

func (r *Runner) complete(ctx context.Context, batchID string, logger *zap.Logger) error {
	if err := r.refreshStats(ctx, batchID); err != nil {
		return err
	}
	_, err := r.repo.TransitionBatch(ctx, batchID, repository.BatchTransition{
		From: []domain.BatchStatus{domain.BatchStatusRunning},
		To:   domain.BatchStatusCompleted,
		At:   r.now(),
	})
	if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	r.metrics.BatchTransitions.WithLabelValues(string(domain.BatchStatusCompleted)).Inc()
	logger.Info("batch completed")
	return nil
}

// refreshStats rewrites the cached batch counters from the item rows.
func (r *Runner) refreshStats(ctx context.Context, batchID string) error {
	writeCtx := context.WithoutCancel(ctx)
	stats, err := r.repo.ItemStats(writeCtx, batchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("aggregate items: %w", err)
	}
	if err := r.repo.SaveBatchStats(writeCtx, batchID, stats, r.now()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("save batch counters: %w", err)
	}
	return nil
}

func (r *Runner) keepLease(ctx context.Context, cancel context.CancelFunc, held lease.Lease, logger *zap.Logger) {
	ticker := time.NewTicker(max(r.leaseTTL/3, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := held.Refresh(ctx)
			if errors.Is(err, lease.ErrLost) {
				logger.Warn("batch lease lost, stopping loop")
				cancel()
				return
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn("refresh batch lease failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) failBatchUnlessCancelled(ctx context.Context, batchID string, cause error, logger *zap.Logger) {
	if ctx.Err() != nil {
		logger.Info("batch loop cancelled", zap.NamedError("last_error", cause))
		return
	}
	r.failBatch(batchID, cause, logger)
}

// failBatch marks the batch failed after a bookkeeping error. Other batches
// keep running.
func (r *Runner) failBatch(batchID string, cause error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Error("batch loop failed", zap.Error(cause))
	_ = r.refreshStats(ctx, batchID)
	_, err := r.repo.TransitionBatch(ctx, batchID, repository.BatchTransition{
		From:   []domain.BatchStatus{domain.BatchStatusRunning},
		To:     domain.BatchStatusFailed,
		At:     r.now(),
		Reason: cause.Error(),
	})
	if err != nil {
		logger.Error("mark batch failed", zap.Error(err))
		return
	}
	r.metrics.BatchTransitions.WithLabelValues(string(domain.BatchStatusFailed)).Inc()
}
