package scrapers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoice-relay/logging"
)

type fakeRow struct {
	html string
	err  error
}

func (r fakeRow) OuterHTML(context.Context) (string, error) { return r.html, r.err }

func (r fakeRow) Trigger(selector string) Trigger { return fakeTrigger(selector) }

type fakeTrigger string

func (fakeTrigger) Fire(context.Context) error { return nil }

func invoiceRow(id, anchor string) string {
	return fmt.Sprintf(`<tr><td>%s</td><td>12.03.2024</td><td>%s</td></tr>`, id, anchor)
}

func TestParseRow(t *testing.T) {
	for _, tc := range []struct {
		name     string
		html     string
		id       string
		selector string
	}{
		{
			name:     "primary anchor",
			html:     invoiceRow("Rechnung S-100", `<a title="Rechnungsdruck" href="#">PDF</a>`),
			id:       "S-100",
			selector: primaryTrigger,
		},
		{
			name:     "fallback anchor",
			html:     invoiceRow("S-101", `<a title="Rechnung drucken" href="#">PDF</a>`),
			id:       "S-101",
			selector: fallbackTrigger,
		},
		{
			name:     "primary wins over fallback",
			html:     invoiceRow("S-102", `<a title="Rechnung ansehen">v</a><a title="Rechnungsdruck">d</a>`),
			id:       "S-102",
			selector: primaryTrigger,
		},
		{
			name: "no anchor",
			html: invoiceRow("S-103", `<a title="Details">x</a>`),
			id:   "S-103",
		},
		{
			name:     "no invoice id",
			html:     invoiceRow("Gutschrift G-5", `<a title="Rechnungsdruck">d</a>`),
			selector: primaryTrigger,
		},
		{
			name: "first id in row",
			html: invoiceRow("S-7 ersetzt S-6", ""),
			id:   "S-7",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRow(tc.html)
			require.NoError(t, err)
			assert.Equal(t, tc.id, got.ID)
			assert.Equal(t, tc.selector, got.TriggerSelector)
		})
	}
}

func collect(t *testing.T, rows []rowHandle) ([]InvoiceRecord, []error) {
	t.Helper()
	var (
		records []InvoiceRecord
		errs    []error
	)
	for rec, err := range discover(context.Background(), rows, logging.Discard()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func TestDiscoverSkipsRowsWithoutID(t *testing.T) {
	anchor := `<a title="Rechnungsdruck">d</a>`
	rows := []rowHandle{
		fakeRow{html: invoiceRow("S-1", anchor)},
		fakeRow{html: invoiceRow("Summe", "")},
		fakeRow{html: invoiceRow("S-2", anchor)},
		fakeRow{html: `<tr><th>Nr.</th><th>Datum</th></tr>`},
		fakeRow{html: invoiceRow("S-3", anchor)},
	}

	records, errs := collect(t, rows)
	require.Empty(t, errs)
	require.Len(t, records, 3)
	assert.Equal(t, "S-1", records[0].ID)
	assert.Equal(t, "S-2", records[1].ID)
	assert.Equal(t, "S-3", records[2].ID)
	assert.Equal(t, fakeTrigger(primaryTrigger), records[0].Trigger)
}

func TestDiscoverContinuesPastBadRows(t *testing.T) {
	rows := []rowHandle{
		fakeRow{html: invoiceRow("S-1", `<a title="Details">x</a>`)},
		fakeRow{err: errors.New("node detached")},
		fakeRow{html: invoiceRow("S-2", `<a title="Rechnung">d</a>`)},
	}

	records, errs := collect(t, rows)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "node detached")
	require.Len(t, records, 1)
	assert.Equal(t, "S-2", records[0].ID)
	assert.Equal(t, fakeTrigger(fallbackTrigger), records[0].Trigger)
}

func TestDiscoverIsNotRestartable(t *testing.T) {
	seq := discover(context.Background(), []rowHandle{
		fakeRow{html: invoiceRow("S-1", `<a title="Rechnungsdruck">d</a>`)},
	}, logging.Discard())

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	require.Equal(t, 1, n)

	for _, err := range seq {
		require.ErrorIs(t, err, ErrListingConsumed)
	}
}

func TestDiscoverStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for _, err := range discover(ctx, []rowHandle{fakeRow{html: invoiceRow("S-1", "")}}, logging.Discard()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], context.Canceled)
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, `'Nord GmbH'`, xpathLiteral("Nord GmbH"))
	assert.Equal(t, `"O'Neil"`, xpathLiteral("O'Neil"))
	assert.Equal(t, `concat('a"b', "'", 'c')`, xpathLiteral(`a"b'c`))
}

func TestOptionLocatorsOrder(t *testing.T) {
	locs := optionLocators("Nord")
	require.Len(t, locs, 3)
	assert.Equal(t, `//li[contains(@class, 'ui-selectonemenu-item') and contains(text(), 'Nord')]`, locs[0].sel)
	assert.Equal(t, `//li[contains(@class, 'ui-selectonemenu-item') and contains(., 'Nord')]`, locs[1].sel)
	assert.Equal(t, `//li[contains(text(), 'Nord')]`, locs[2].sel)
	for _, l := range locs {
		assert.True(t, l.xpath)
	}
}

func TestMenuLocatorsOrder(t *testing.T) {
	require.Len(t, menuLocators, 7)
	assert.Equal(t, "div.ui-selectonemenu-trigger", menuLocators[0].sel)
	assert.False(t, menuLocators[0].xpath)
	assert.Equal(t, "//header//div[contains(@class, 'dropdown')]", menuLocators[6].sel)
	assert.True(t, menuLocators[6].xpath)
}

func TestAllocatorOptions(t *testing.T) {
	cfg := &ScraperConfig{Headless: true}
	base := len(NewPortalScraper(cfg, logging.Discard()).allocatorOptions(""))

	assert.Equal(t, base+1, len(NewPortalScraper(cfg, logging.Discard()).allocatorOptions("/tmp/profile")))

	cfg.ChromePath = "/usr/bin/chromium"
	assert.Equal(t, base+2, len(NewPortalScraper(cfg, logging.Discard()).allocatorOptions("/tmp/profile")))
}
