package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/invoice-relay/scrapers"
	"github.com/invoice-relay/store"
)

// ErrRunActive is returned when a run is requested while one is going.
var ErrRunActive = errors.New("a run is already active")

// AccountLister reads the configured accounts. *store.Accounts satisfies it.
type AccountLister interface {
	List(ctx context.Context) ([]store.Account, error)
}

// Coordinator runs every account through one browser session and allows at
// most one run at a time.
type Coordinator struct {
	accounts  AccountLister
	open      scrapers.Opener
	processor *Processor
	watcher   *Watcher
	logger    *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewCoordinator(accounts AccountLister, open scrapers.Opener, processor *Processor, watcher *Watcher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		accounts:  accounts,
		open:      open,
		processor: processor,
		watcher:   watcher,
		logger:    logger,
	}
}

// Running reports whether a run is active.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Run performs a run in the calling goroutine and returns how many invoices
// were delivered.
func (c *Coordinator) Run(ctx context.Context) (int, error) {
	if !c.running.CompareAndSwap(false, true) {
		return 0, ErrRunActive
	}
	defer c.running.Store(false)
	return c.run(ctx)
}

// Start claims the run slot and performs the run in the background. The slot
// is claimed before Start returns, so a second Start fails immediately.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Run panic recovered", "panic", r)
			}
		}()
		if _, err := c.run(ctx); err != nil {
			c.logger.Error("Run failed", "error", err)
		}
	}()
	return nil
}

// Wait blocks until background runs started with Start have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context) (int, error) {
	runID := uuid.NewString()
	logger := c.logger.With("run", runID)
	started := time.Now()
	logger.Info("=== Starting invoice run ===")

	if err := c.watcher.Prepare(); err != nil {
		return 0, err
	}
	if n, err := c.watcher.Reset(); err != nil {
		logger.Error("Could not clear download directory", "error", err)
	} else if n > 0 {
		logger.Info("Removed leftover downloads", "count", n)
	}

	accounts, err := c.accounts.List(ctx)
	if err != nil {
		logger.Error("Could not load accounts", "error", err)
		return 0, err
	}
	if len(accounts) == 0 {
		logger.Error("No accounts configured. Please add an account first.")
		return 0, nil
	}

	sess, err := c.open(ctx)
	if err != nil {
		logger.Error("Failed to start browser", "error", err)
		return 0, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Error("Failed to close browser", "error", err)
		}
		if _, err := c.watcher.Reset(); err != nil {
			logger.Error("Could not clear download directory", "error", err)
		}
	}()

	var (
		total  int
		runErr error
	)
	for _, acc := range accounts {
		logger.Info("--- Processing account ---", "account", acc.Name, "target", acc.Target())
		res := c.processor.Process(ctx, sess, acc)
		total += res.Processed

		if fatal(ctx, res.Err) {
			runErr = res.Err
			if runErr == nil {
				runErr = ctx.Err()
			}
			logger.Error("Stopping run, browser session is gone", "error", runErr)
			break
		}
		if err := sess.ClearCookies(ctx); err != nil {
			logger.Error("Could not clear cookies", "error", err)
		}
	}

	logger.Info("=== Run completed ===", "delivered", total, "duration", time.Since(started).Round(time.Second))
	return total, runErr
}
