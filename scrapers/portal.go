package scrapers

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	usernameField = `#modlgn_username`
	passwordField = `#modlgn_passwd`
	submitButton  = `[name="Submit"]`
	listingBody   = `tbody`
	listingRows   = `tbody tr`

	screenshotLayout = "2006-01-02_15-04-05"
)

// PortalScraper starts Chrome sessions against the invoice portal.
type PortalScraper struct {
	config *ScraperConfig
	logger *slog.Logger
}

func NewPortalScraper(config *ScraperConfig, logger *slog.Logger) *PortalScraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortalScraper{config: config, logger: logger.With("component", "browser")}
}

// allocatorOptions are the Chrome flags for unattended PDF downloads.
func (s *PortalScraper) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.config.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.WindowSize(1920, 1080),
	)
	if s.config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.config.ChromePath))
	}
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}
	return opts
}

// Open launches Chrome with downloads going straight into the download
// directory. The returned session must be closed.
func (s *PortalScraper) Open(ctx context.Context) (Session, error) {
	s.logger.Info("Initializing browser...")

	if err := os.MkdirAll(s.config.DownloadPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	absDownloadPath, err := filepath.Abs(s.config.DownloadPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	profileDir, err := os.MkdirTemp("", "invoice-relay-chrome-")
	if err != nil {
		return nil, fmt.Errorf("failed to create browser profile: %w", err)
	}
	if err := prepareProfile(profileDir, absDownloadPath); err != nil {
		os.RemoveAll(profileDir)
		return nil, err
	}

	// the browser lives until Close, not until the caller's context ends
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), s.allocatorOptions(profileDir)...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		s.logger.Debug(fmt.Sprintf(format, args...))
	}))

	sess := &PortalSession{
		ctx:          browserCtx,
		cancel:       cancel,
		allocCancel:  allocCancel,
		config:       s.config,
		logger:       s.logger,
		downloadPath: absDownloadPath,
		profileDir:   profileDir,
	}

	// the first Run allocates the browser and binds it to the context it is
	// given, so it must not be a short-lived child
	if err := chromedp.Run(browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(absDownloadPath).
			WithEventsEnabled(true),
	); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			s.logger.Info("Accepting dialog", "message", e.Message)
			go chromedp.Run(browserCtx, page.HandleJavaScriptDialog(true))
		}
	})

	if s.config.Headless {
		s.logger.Info("Running in HEADLESS mode")
	} else {
		s.logger.Info("Running in VISIBLE mode")
	}
	s.logger.Info("Browser initialized", "download_path", absDownloadPath)
	return sess, nil
}

// PortalSession is a live Chrome instance.
type PortalSession struct {
	ctx          context.Context
	cancel       context.CancelFunc
	allocCancel  context.CancelFunc
	config       *ScraperConfig
	logger       *slog.Logger
	downloadPath string
	profileDir   string

	// pageGen counts navigations. Row triggers remember the generation they
	// were found in.
	pageGen atomic.Uint64
	closed  atomic.Bool
}

// run executes actions against the browser, bounded by timeout and by ctx.
func (s *PortalSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.closed.Load() || s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(tctx, actions...)
	if err != nil && s.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *PortalSession) navigate(ctx context.Context, url string) error {
	s.pageGen.Add(1)
	return s.run(ctx, s.config.PageTimeout,
		chromedp.Navigate(url),
		chromedp.Sleep(s.config.SettleDelay),
	)
}

func (s *PortalSession) Authenticate(ctx context.Context, username, password string) error {
	s.logger.Info("Navigating to login page")
	if err := s.navigate(ctx, s.config.LoginURL); err != nil {
		return s.loginFailed(ctx, fmt.Errorf("failed to navigate: %w", err))
	}

	if err := s.run(ctx, s.config.ElementTimeout, chromedp.WaitReady(usernameField, chromedp.ByQuery)); err != nil {
		return s.loginFailed(ctx, fmt.Errorf("login form did not appear: %w", err))
	}

	s.logger.Info("Filling credentials", "username", username)
	var location string
	if err := s.run(ctx, s.config.PageTimeout,
		chromedp.Clear(usernameField, chromedp.ByQuery),
		chromedp.SendKeys(usernameField, username, chromedp.ByQuery),
		chromedp.Clear(passwordField, chromedp.ByQuery),
		chromedp.SendKeys(passwordField, password, chromedp.ByQuery),
		chromedp.Click(submitButton, chromedp.ByQuery),
		chromedp.Sleep(s.config.SettleDelay),
		chromedp.Location(&location),
	); err != nil {
		return s.loginFailed(ctx, fmt.Errorf("failed to submit credentials: %w", err))
	}
	s.pageGen.Add(1)

	if strings.Contains(strings.ToLower(location), strings.ToLower(s.config.LoginMarker)) {
		return s.loginFailed(ctx, fmt.Errorf("%w: still on %s", ErrLoginRejected, location))
	}
	s.logger.Info("Login successful")
	return nil
}

func (s *PortalSession) loginFailed(ctx context.Context, err error) error {
	if prefix, ok := loginScreenshotPrefix(err); ok {
		s.Screenshot(ctx, prefix)
	}
	return err
}

// loginScreenshotPrefix names the screenshot for a failed login. A closed
// session cannot take one.
func loginScreenshotPrefix(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrSessionClosed):
		return "", false
	case errors.Is(err, context.DeadlineExceeded):
		return "error_login_timeout", true
	default:
		return "error_login", true
	}
}

func (s *PortalSession) SelectContext(ctx context.Context, label string) error {
	if label == "" {
		return nil
	}
	s.logger.Info("Attempting to switch to mandant", "mandant", label)

	if used, ok := s.openContextMenu(ctx); ok {
		s.logger.Info("Clicked dropdown", "selector", used.String())
	}

	for _, l := range optionLocators(label) {
		err := s.run(ctx, s.config.ContextTimeout,
			chromedp.Click(l.sel, chromedp.BySearch, chromedp.NodeVisible),
			chromedp.Sleep(s.config.SettleDelay),
		)
		if err == nil {
			s.logger.Info("Successfully switched to mandant", "mandant", label)
			return nil
		}
		if errors.Is(err, ErrSessionClosed) || ctx.Err() != nil {
			return err
		}
	}

	s.Screenshot(ctx, "error_mandant_notfound")
	return fmt.Errorf("%w: %s", ErrContextNotFound, label)
}

// openContextMenu clicks the first displayed element of the first locator
// that has one.
func (s *PortalSession) openContextMenu(ctx context.Context) (locator, bool) {
	for _, l := range menuLocators {
		var nodes []*cdp.Node
		if err := s.run(ctx, s.config.ContextTimeout,
			chromedp.Nodes(l.sel, &nodes, l.by(), chromedp.AtLeast(0)),
		); err != nil {
			continue
		}
		for _, n := range nodes {
			err := s.run(ctx, s.config.ContextTimeout,
				chromedp.MouseClickNode(n),
				chromedp.Sleep(s.config.SettleDelay/2),
			)
			if err == nil {
				return l, true
			}
		}
	}
	return locator{}, false
}

func (s *PortalSession) Invoices(ctx context.Context) (iter.Seq2[InvoiceRecord, error], error) {
	s.logger.Info("Navigating to invoices page")
	if err := s.navigate(ctx, s.config.InvoicesURL); err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			s.Screenshot(ctx, "error_invoices")
		}
		return nil, fmt.Errorf("%w: %v", ErrListingUnavailable, err)
	}

	if err := s.run(ctx, s.config.ElementTimeout, chromedp.WaitReady(listingBody, chromedp.ByQuery)); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return nil, err
		}
		s.Screenshot(ctx, "error_invoices_timeout")
		return nil, fmt.Errorf("%w: %v", ErrListingUnavailable, err)
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, s.config.ElementTimeout,
		chromedp.Nodes(listingRows, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingUnavailable, err)
	}
	s.logger.Info("Found invoice rows", "count", len(nodes))

	gen := s.pageGen.Load()
	rows := make([]rowHandle, len(nodes))
	for i, n := range nodes {
		rows[i] = &portalRow{sess: s, node: n, gen: gen}
	}
	return discover(ctx, rows, s.logger), nil
}

func (s *PortalSession) ClearCookies(ctx context.Context) error {
	if err := s.run(ctx, s.config.PageTimeout, network.ClearBrowserCookies()); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}

func (s *PortalSession) Screenshot(ctx context.Context, prefix string) string {
	var buf []byte
	if err := s.run(ctx, s.config.PageTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		s.logger.Error("Failed to save debug screenshot", "error", err)
		return ""
	}
	path := filepath.Join(s.downloadPath, prefix+"_"+time.Now().Format(screenshotLayout)+".png")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		s.logger.Error("Failed to save debug screenshot", "error", err)
		return ""
	}
	s.logger.Info("Debug screenshot saved", "file", filepath.Base(path))
	return path
}

func (s *PortalSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Info("Closing browser")
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if rmErr := os.RemoveAll(s.profileDir); rmErr != nil {
		s.logger.Error("Failed to remove browser profile", "error", rmErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// portalRow is a listing row node from one page load.
type portalRow struct {
	sess *PortalSession
	node *cdp.Node
	gen  uint64
}

func (r *portalRow) OuterHTML(ctx context.Context) (string, error) {
	if r.sess.pageGen.Load() != r.gen {
		return "", ErrStaleTrigger
	}
	var html string
	err := r.sess.run(ctx, r.sess.config.ElementTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		html, err = dom.GetOuterHTML().WithNodeID(r.node.NodeID).Do(ctx)
		return err
	}))
	return html, err
}

func (r *portalRow) Trigger(selector string) Trigger {
	return &rowTrigger{row: r, selector: selector}
}

type rowTrigger struct {
	row      *portalRow
	selector string
}

func (t *rowTrigger) Fire(ctx context.Context) error {
	sess := t.row.sess
	if sess.pageGen.Load() != t.row.gen {
		return ErrStaleTrigger
	}
	err := sess.run(ctx, sess.config.ElementTimeout,
		chromedp.Click(t.selector, chromedp.ByQuery, chromedp.FromNode(t.row.node)),
	)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTriggerNotFound, err)
	}
	return err
}
