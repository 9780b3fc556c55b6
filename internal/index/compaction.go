package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Franck-BRT/BlackIA-sub003/internal/config"
)

// Compacter reclaims store space. store.Maintenance implements it.
type Compacter interface {
	Compact(ctx context.Context) error
}

// Compactor runs store compaction in the background.
//
// Compaction runs when:
//  1. The index has been idle (no Touch) for IdleTimeout
//  2. At least DeleteThreshold rows were deleted since the last compaction
//  3. Cooldown has elapsed since the last compaction
//
// Any activity interrupts a running compaction.
type Compactor struct {
	target      Compacter
	enabled     bool
	threshold   int
	idleTimeout time.Duration
	cooldown    time.Duration
	logger      *slog.Logger

	mu          sync.Mutex
	deleted     int
	lastCompact time.Time
	idleTimer   *time.Timer
	compacting  bool
	cancelRun   context.CancelFunc

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewCompactor creates a Compactor for target.
func NewCompactor(target Compacter, cfg config.CompactionConfig, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.DeleteThreshold
	if threshold <= 0 {
		threshold = 1000
	}
	return &Compactor{
		target:      target,
		enabled:     cfg.Enabled,
		threshold:   threshold,
		idleTimeout: config.Duration(cfg.IdleTimeout, 30*time.Second),
		cooldown:    config.Duration(cfg.Cooldown, time.Hour),
		logger:      logger,
	}
}

// Start enables background compaction until ctx is done or Stop is called.
func (c *Compactor) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	c.logger.Debug("compactor started",
		slog.Bool("enabled", c.enabled),
		slog.Int("delete_threshold", c.threshold),
		slog.Duration("idle_timeout", c.idleTimeout))
}

// Stop cancels any running compaction and waits for it to return.
func (c *Compactor) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		if c.idleTimer != nil {
			c.idleTimer.Stop()
		}
		if c.cancelRun != nil {
			c.cancelRun()
		}
		c.mu.Unlock()

		c.wg.Wait()
		c.logger.Debug("compactor stopped")
	})
}

// Touch records index activity. It restarts the idle timer and interrupts
// a running compaction.
func (c *Compactor) Touch() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.compacting && c.cancelRun != nil {
		c.logger.Debug("interrupting compaction for index activity")
		c.cancelRun()
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.idleTimeout, c.onIdle)
}

// RecordDeleted adds rows to the deleted-row counter and counts as activity.
func (c *Compactor) RecordDeleted(rows int) {
	if rows <= 0 {
		return
	}
	c.mu.Lock()
	c.deleted += rows
	c.mu.Unlock()
	c.Touch()
}

// Pending returns the number of deleted rows since the last compaction.
func (c *Compactor) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleted
}

// CompactNow compacts synchronously, ignoring threshold and cooldown.
func (c *Compactor) CompactNow(ctx context.Context) error {
	c.mu.Lock()
	if c.compacting {
		c.mu.Unlock()
		return nil
	}
	c.compacting = true
	c.mu.Unlock()

	err := c.run(ctx)

	c.mu.Lock()
	c.compacting = false
	c.mu.Unlock()
	return err
}

func (c *Compactor) onIdle() {
	if !c.shouldCompact() {
		return
	}

	c.mu.Lock()
	if c.compacting || c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.compacting = true
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelRun = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			cancel()
			c.mu.Lock()
			c.compacting = false
			c.cancelRun = nil
			c.mu.Unlock()
		}()
		if err := c.run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("background compaction failed", slog.String("error", err.Error()))
		}
	}()
}

func (c *Compactor) shouldCompact() bool {
	if !c.enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil || c.ctx.Err() != nil || c.compacting {
		return false
	}
	if c.deleted < c.threshold {
		c.logger.Debug("compaction skipped: below delete threshold",
			slog.Int("deleted", c.deleted),
			slog.Int("threshold", c.threshold))
		return false
	}
	if !c.lastCompact.IsZero() && time.Since(c.lastCompact) < c.cooldown {
		c.logger.Debug("compaction skipped: cooldown active",
			slog.Duration("remaining", c.cooldown-time.Since(c.lastCompact)))
		return false
	}
	return true
}

func (c *Compactor) run(ctx context.Context) error {
	start := time.Now()
	c.mu.Lock()
	pending := c.deleted
	c.mu.Unlock()

	c.logger.Info("compaction starting", slog.Int("deleted_rows", pending))
	if err := c.target.Compact(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.deleted -= pending
	if c.deleted < 0 {
		c.deleted = 0
	}
	c.lastCompact = time.Now()
	c.mu.Unlock()

	c.logger.Info("compaction complete", slog.Duration("duration", time.Since(start)))
	return nil
}
