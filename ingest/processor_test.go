package ingest

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoice-relay/logging"
	"github.com/invoice-relay/scrapers"
	"github.com/invoice-relay/store"
)

// brokenLedger fails lookups for the listed ids.
type brokenLedger struct {
	Ledger
	failing map[string]bool
}

func (l brokenLedger) Contains(ctx context.Context, id string) (bool, error) {
	if l.failing[id] {
		return false, errors.New("database is locked")
	}
	return l.Ledger.Contains(ctx, id)
}

// rowErrorPortal yields a row error between two good rows.
type rowErrorPortal struct {
	*fakePortal
}

func (p rowErrorPortal) Invoices(ctx context.Context) (iter.Seq2[scrapers.InvoiceRecord, error], error) {
	seq, err := p.fakePortal.Invoices(ctx)
	if err != nil {
		return nil, err
	}
	return func(yield func(scrapers.InvoiceRecord, error) bool) {
		first := true
		for rec, err := range seq {
			if !yield(rec, err) {
				return
			}
			if first {
				first = false
				if !yield(scrapers.InvoiceRecord{}, errors.New("node detached")) {
					return
				}
			}
		}
	}, nil
}

func TestProcessResultStates(t *testing.T) {
	pl := newPipeline(t)
	p := pl.coordinator.processor
	acc := store.Account{Name: "A", Username: "a", Password: "p", APIKey: "k1"}
	require.NoError(t, pl.coordinator.watcher.Prepare())

	pl.portal.listings["a"] = []string{"S-1", "S-2"}
	res := p.Process(context.Background(), pl.portal, acc)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Processed)
	assert.NoError(t, res.Err)

	res = p.Process(context.Background(), pl.portal, acc)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 2, res.Skipped)

	pl.portal.rejected = map[string]bool{"a": true}
	res = p.Process(context.Background(), pl.portal, acc)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, scrapers.ErrLoginRejected)
	assert.Equal(t, "failed", res.State.String())
}

func TestProcessRowErrorsDoNotStopTheLoop(t *testing.T) {
	pl := newPipeline(t)
	require.NoError(t, pl.coordinator.watcher.Prepare())
	pl.portal.listings["a"] = []string{"S-1", "S-2", "S-3"}

	p := NewProcessor(brokenLedger{Ledger: pl.store.History, failing: map[string]bool{"S-2": true}},
		pl.coordinator.watcher, NewRouter(pl.uploader, nil), pl.coordinator.processor.downloadTimeout, nil)

	res := p.Process(context.Background(), rowErrorPortal{pl.portal}, store.Account{Name: "A", Username: "a", APIKey: "k1"})
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"S-1", "S-3"}, pl.portal.firedIDs())
	assert.False(t, pl.recorded(t, "S-2"))
}

func TestProcessStopsOnCancel(t *testing.T) {
	pl := newPipeline(t)
	require.NoError(t, pl.coordinator.watcher.Prepare())
	pl.portal.listings["a"] = []string{"S-1", "S-2"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := pl.coordinator.processor.Process(ctx, pl.portal, store.Account{Name: "A", Username: "a", APIKey: "k1"})
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, pl.portal.firedIDs())
	assert.False(t, pl.recorded(t, "S-1"))
}

func TestLateDownloadIsNotCreditedToNextInvoice(t *testing.T) {
	pl := newPipeline(t)
	p := pl.coordinator.processor
	require.NoError(t, pl.coordinator.watcher.Prepare())
	acc := store.Account{Name: "A", Username: "a", Password: "p", APIKey: "k1"}
	ctx := context.Background()

	// S-1's file lands after its 200ms wait, while S-2 would be waiting
	written := make(chan struct{})
	late := funcTrigger(func(context.Context) error {
		go func() {
			defer close(written)
			time.Sleep(300 * time.Millisecond)
			_ = os.WriteFile(filepath.Join(pl.downloadDir, "S-1-print.pdf"), []byte("%PDF S-1"), 0644)
		}()
		return nil
	})
	never := funcTrigger(func(context.Context) error { return nil })

	var res Result
	logger := logging.Discard()
	require.NoError(t, p.processRow(ctx, logger, scrapers.InvoiceRecord{ID: "S-1", Trigger: late}, acc, &res))
	require.NoError(t, p.processRow(ctx, logger, scrapers.InvoiceRecord{ID: "S-2", Trigger: never}, acc, &res))
	<-written

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, pl.uploader.uploads)
	assert.False(t, pl.recorded(t, "S-1"))
	assert.False(t, pl.recorded(t, "S-2"))
	assert.NotContains(t, dirEntries(t, pl.downloadDir), "S-1-print.pdf")
}
