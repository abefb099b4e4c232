package ingest

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/invoice-relay/logging"
	"github.com/invoice-relay/scrapers"
	"github.com/invoice-relay/store"
)

// fakePortal stands in for the browser. Each username sees its own listing;
// firing a trigger drops <id>-print.pdf into the download directory.
type fakePortal struct {
	mu sync.Mutex

	downloadDir string
	listings    map[string][]string
	// silent ids produce no file when triggered
	silent map[string]bool
	// rejected usernames fail to log in
	rejected   map[string]bool
	contextErr error
	// dieAfterLogin closes the session once this user has logged in
	dieAfterLogin string

	user           string
	contexts       []string
	fired          []string
	cookiesCleared int
	closed         bool
	dead           bool
}

func (p *fakePortal) Authenticate(_ context.Context, username, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return scrapers.ErrSessionClosed
	}
	if p.rejected[username] {
		return scrapers.ErrLoginRejected
	}
	p.user = username
	if username == p.dieAfterLogin {
		p.dead = true
	}
	return nil
}

func (p *fakePortal) SelectContext(_ context.Context, label string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if label == "" {
		return nil
	}
	if p.dead {
		return scrapers.ErrSessionClosed
	}
	if p.contextErr != nil {
		return p.contextErr
	}
	p.contexts = append(p.contexts, label)
	return nil
}

func (p *fakePortal) Invoices(context.Context) (iter.Seq2[scrapers.InvoiceRecord, error], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead {
		return nil, scrapers.ErrSessionClosed
	}
	ids := p.listings[p.user]
	return func(yield func(scrapers.InvoiceRecord, error) bool) {
		for _, id := range ids {
			if !yield(scrapers.InvoiceRecord{ID: id, Trigger: &fakeTrigger{portal: p, id: id}}, nil) {
				return
			}
		}
	}, nil
}

func (p *fakePortal) ClearCookies(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookiesCleared++
	return nil
}

func (p *fakePortal) Screenshot(context.Context, string) string { return "" }

func (p *fakePortal) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePortal) firedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.fired...)
}

type fakeTrigger struct {
	portal *fakePortal
	id     string
}

func (t *fakeTrigger) Fire(context.Context) error {
	p := t.portal
	p.mu.Lock()
	p.fired = append(p.fired, t.id)
	silent := p.silent[t.id]
	p.mu.Unlock()
	if silent {
		return nil
	}
	return os.WriteFile(filepath.Join(p.downloadDir, t.id+"-print.pdf"), []byte("%PDF "+t.id), 0644)
}

type upload struct {
	apiKey  string
	name    string
	content string
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, apiKey, path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	u.uploads = append(u.uploads, upload{apiKey: apiKey, name: filepath.Base(path), content: string(data)})
	return nil
}

// pipeline is a coordinator wired to an in-memory store and a fake portal.
type pipeline struct {
	store       *store.Store
	portal      *fakePortal
	uploader    *fakeUploader
	coordinator *Coordinator
	downloadDir string
	opens       int
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	downloadDir := filepath.Join(t.TempDir(), "downloads")
	logger := logging.Discard()

	pl := &pipeline{
		store:       st,
		portal:      &fakePortal{downloadDir: downloadDir, listings: map[string][]string{}},
		uploader:    &fakeUploader{},
		downloadDir: downloadDir,
	}

	watcher := NewWatcher(downloadDir, 5*time.Millisecond, logger)
	router := NewRouter(pl.uploader, logger)
	processor := NewProcessor(st.History, watcher, router, 200*time.Millisecond, logger)
	open := func(context.Context) (scrapers.Session, error) {
		pl.opens++
		return pl.portal, nil
	}
	pl.coordinator = NewCoordinator(st.Accounts, open, processor, watcher, logger)
	return pl
}

func (pl *pipeline) addAccount(t *testing.T, acc store.Account) {
	t.Helper()
	if acc.Password == "" {
		acc.Password = "pw"
	}
	_, err := pl.store.Accounts.Add(context.Background(), acc)
	require.NoError(t, err)
}

func (pl *pipeline) recorded(t *testing.T, id string) bool {
	t.Helper()
	ok, err := pl.store.History.Contains(context.Background(), id)
	require.NoError(t, err)
	return ok
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
