package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/invoice-relay/scrapers"
	"github.com/invoice-relay/store"
)

// State is where an account's processing stands.
type State int

const (
	StateLoggingIn State = iota
	StateContextSwitch
	StateListing
	StateProcessingRow
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoggingIn:
		return "logging_in"
	case StateContextSwitch:
		return "context_switch"
	case StateListing:
		return "listing"
	case StateProcessingRow:
		return "processing_row"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Ledger is the delivered-invoice history. *store.History satisfies it.
type Ledger interface {
	Contains(ctx context.Context, invoiceID string) (bool, error)
	RecordIfAbsent(ctx context.Context, invoiceID string) error
}

// Deliverer hands a downloaded file to its destination. *Router satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, invoiceID string, file DownloadedFile, acc store.Account) error
}

// Result summarises one account.
type Result struct {
	Account   string
	Processed int
	Skipped   int
	Failed    int
	State     State
	// Err is the step error that ended or degraded the account, if any.
	Err error
}

type Processor struct {
	history         Ledger
	watcher         *Watcher
	router          Deliverer
	downloadTimeout time.Duration
	logger          *slog.Logger
}

func NewProcessor(history Ledger, watcher *Watcher, router Deliverer, downloadTimeout time.Duration, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		history:         history,
		watcher:         watcher,
		router:          router,
		downloadTimeout: downloadTimeout,
		logger:          logger,
	}
}

// Process logs acc in, switches tenant and delivers every invoice not yet
// in the history. Row failures never stop the loop; only a dead session or
// a cancelled ctx does.
func (p *Processor) Process(ctx context.Context, sess scrapers.Session, acc store.Account) Result {
	res := Result{Account: acc.Name, State: StateLoggingIn}
	logger := p.logger.With("account", acc.Name)

	if err := sess.Authenticate(ctx, acc.Username, acc.Password); err != nil {
		logger.Error("Login failed", "error", err)
		res.State, res.Err = StateFailed, err
		return res
	}

	if acc.ContextLabel != "" {
		res.State = StateContextSwitch
		if err := sess.SelectContext(ctx, acc.ContextLabel); err != nil {
			if fatal(ctx, err) {
				logger.Error("Session lost while switching mandant", "error", err)
				res.State, res.Err = StateFailed, err
				return res
			}
			logger.Error("Could not switch mandant, continuing without it", "mandant", acc.ContextLabel, "error", err)
			res.Err = err
		}
	}

	res.State = StateListing
	invoices, err := sess.Invoices(ctx)
	if err != nil {
		logger.Error("Could not load invoice listing", "error", err)
		res.Err = err
		if fatal(ctx, err) {
			res.State = StateFailed
		} else {
			res.State = StateDone
		}
		return res
	}

	for rec, err := range invoices {
		res.State = StateProcessingRow
		if err == nil {
			err = p.processRow(ctx, logger, rec, acc, &res)
		} else {
			logger.Error("Error processing row", "error", err)
			res.Failed++
		}
		if err == nil {
			err = ctx.Err()
		}
		if err != nil && fatal(ctx, err) {
			logger.Error("Aborting account", "error", err)
			res.State, res.Err = StateFailed, err
			return res
		}
	}

	res.State = StateDone
	logger.Info("Completed", "processed", res.Processed, "skipped", res.Skipped, "failed", res.Failed)
	return res
}

// processRow handles one invoice. Failures are logged and counted; the
// returned error is the trigger's, which may mean the session is gone.
func (p *Processor) processRow(ctx context.Context, logger *slog.Logger, rec scrapers.InvoiceRecord, acc store.Account, res *Result) error {
	logger = logger.With("invoice", rec.ID)

	seen, err := p.history.Contains(ctx, rec.ID)
	if err != nil {
		logger.Error("History lookup failed, skipping invoice", "error", err)
		res.Failed++
		return nil
	}
	if seen {
		logger.Info("Skipping already processed invoice")
		res.Skipped++
		return nil
	}

	logger.Info("Processing invoice")
	before, err := p.watcher.Snapshot()
	if err != nil {
		logger.Error("Could not list download directory", "error", err)
		res.Failed++
		return nil
	}

	file, err := p.watcher.TriggerAndWait(ctx, rec.Trigger, before, p.downloadTimeout)
	if err != nil {
		res.Failed++
		if errors.Is(err, ErrDownloadTimeout) {
			logger.Error("Download timeout for invoice")
			// the file may still arrive and must not count for the next row
			if _, err := p.watcher.Quarantine(ctx, before, p.downloadTimeout); err != nil && ctx.Err() == nil {
				logger.Error("Could not discard late download", "error", err)
			}
			return nil
		}
		logger.Error("Download failed", "error", err)
		return err
	}
	logger.Info("Downloaded", "file", file.Path)

	if err := p.router.Deliver(ctx, rec.ID, file, acc); err != nil {
		logger.Error("Delivery failed", "error", err)
		res.Failed++
		return nil
	}

	// delivered: a lost record only means a duplicate delivery next run
	if err := p.history.RecordIfAbsent(ctx, rec.ID); err != nil {
		logger.Error("Failed to record invoice", "error", err)
	}
	res.Processed++
	return nil
}

// fatal reports whether err ends the whole account.
func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, scrapers.ErrSessionClosed) || ctx.Err() != nil
}
