package scrapers

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	// ErrLoginRejected means the portal kept us on the login page.
	ErrLoginRejected = errors.New("login rejected")
	// ErrContextNotFound means no tenant option matched the label.
	ErrContextNotFound = errors.New("context option not found")
	// ErrListingUnavailable means the invoice table never appeared.
	ErrListingUnavailable = errors.New("invoice listing unavailable")
	// ErrTriggerNotFound means the row has no download anchor.
	ErrTriggerNotFound = errors.New("download trigger not found")
	// ErrStaleTrigger means the page navigated after the row was discovered.
	ErrStaleTrigger = errors.New("download trigger is from a previous page load")
	// ErrListingConsumed is yielded when a listing is iterated twice.
	ErrListingConsumed = errors.New("invoice listing already consumed")
	// ErrSessionClosed means the browser is gone. Nothing more can be done
	// with the session.
	ErrSessionClosed = errors.New("browser session closed")
)

// ScraperConfig holds the portal locations and browser settings.
type ScraperConfig struct {
	LoginURL     string
	InvoicesURL  string
	LoginMarker  string
	DownloadPath string
	Headless     bool
	ChromePath   string

	PageTimeout    time.Duration
	ElementTimeout time.Duration
	ContextTimeout time.Duration
	SettleDelay    time.Duration
}

// Trigger starts the download of one invoice. It is only valid for the page
// load it was discovered on.
type Trigger interface {
	Fire(ctx context.Context) error
}

// InvoiceRecord is one listing row with a download trigger.
type InvoiceRecord struct {
	ID      string
	Trigger Trigger
}

// Session is one browser instance shared by every account of a run. It is
// not safe for concurrent use.
type Session interface {
	// Authenticate logs in. A nil error means the portal accepted the
	// credentials.
	Authenticate(ctx context.Context, username, password string) error
	// SelectContext switches the active tenant. An empty label is a no-op.
	SelectContext(ctx context.Context, label string) error
	// Invoices loads the listing page and returns its rows lazily. The
	// sequence can be consumed once and must be drained before the page
	// navigates again.
	Invoices(ctx context.Context) (iter.Seq2[InvoiceRecord, error], error)
	// ClearCookies isolates the next account from the previous one.
	ClearCookies(ctx context.Context) error
	// Screenshot saves a diagnostic PNG and returns its path, or "" when it
	// could not be taken.
	Screenshot(ctx context.Context, prefix string) string
	Close() error
}

// Opener starts a browser session.
type Opener func(ctx context.Context) (Session, error)
