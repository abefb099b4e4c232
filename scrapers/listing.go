package scrapers

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
)

var invoiceIDPattern = regexp.MustCompile(`S-\d+`)

const (
	primaryTrigger  = `a[title="Rechnungsdruck"]`
	fallbackTrigger = `a[title*="Rechnung"]`
)

// parsedRow is what a listing row's markup tells us.
type parsedRow struct {
	ID string
	// TriggerSelector is relative to the row, "" when the row has no
	// download anchor.
	TriggerSelector string
}

// parseRow reads the invoice id and the download anchor out of a row's
// outer HTML.
func parseRow(outerHTML string) (parsedRow, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<table><tbody>" + outerHTML + "</tbody></table>"))
	if err != nil {
		return parsedRow{}, fmt.Errorf("failed to parse row: %w", err)
	}
	row := doc.Find("tr").First()

	var parsed parsedRow
	// cells are joined with a space as a browser renders them, so an id is
	// never glued to the next cell's digits
	cells := row.Children().Map(func(_ int, c *goquery.Selection) string { return c.Text() })
	parsed.ID = invoiceIDPattern.FindString(strings.Join(cells, " "))
	switch {
	case row.Find(primaryTrigger).Length() > 0:
		parsed.TriggerSelector = primaryTrigger
	case row.Find(fallbackTrigger).Length() > 0:
		parsed.TriggerSelector = fallbackTrigger
	}
	return parsed, nil
}

// rowHandle is a listing row on the live page.
type rowHandle interface {
	OuterHTML(ctx context.Context) (string, error)
	// Trigger returns the anchor matching selector inside the row.
	Trigger(selector string) Trigger
}

// discover turns rows into invoice records. Rows without an id are skipped
// silently. Rows without a download anchor are logged and skipped. A row
// that cannot be read is yielded as an error and discovery moves on.
func discover(ctx context.Context, rows []rowHandle, logger *slog.Logger) iter.Seq2[InvoiceRecord, error] {
	var consumed atomic.Bool
	return func(yield func(InvoiceRecord, error) bool) {
		if consumed.Swap(true) {
			yield(InvoiceRecord{}, ErrListingConsumed)
			return
		}
		for i, r := range rows {
			if ctx.Err() != nil {
				yield(InvoiceRecord{}, ctx.Err())
				return
			}

			html, err := r.OuterHTML(ctx)
			if err != nil {
				if !yield(InvoiceRecord{}, fmt.Errorf("failed to read row %d: %w", i, err)) {
					return
				}
				continue
			}
			parsed, err := parseRow(html)
			if err != nil {
				if !yield(InvoiceRecord{}, fmt.Errorf("row %d: %w", i, err)) {
					return
				}
				continue
			}
			if parsed.ID == "" {
				continue
			}
			if parsed.TriggerSelector == "" {
				logger.Error("No download link found for invoice", "invoice", parsed.ID)
				continue
			}
			if !yield(InvoiceRecord{ID: parsed.ID, Trigger: r.Trigger(parsed.TriggerSelector)}, nil) {
				return
			}
		}
	}
}
