package scrapers

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
)

// locator is one way of finding an element. Portal markup is not stable, so
// lookups walk an ordered chain of them and the first usable match wins.
type locator struct {
	sel   string
	xpath bool
}

func css(sel string) locator   { return locator{sel: sel} }
func xpath(sel string) locator { return locator{sel: sel, xpath: true} }

func (l locator) String() string { return l.sel }

// by selects every match: querySelectorAll for CSS, DOM search for XPath.
func (l locator) by() chromedp.QueryOption {
	if l.xpath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

// menuLocators open the tenant dropdown. Order matters.
var menuLocators = []locator{
	css("div.ui-selectonemenu-trigger"),
	css("label.ui-selectonemenu-label"),
	css("div.ui-selectonemenu"),
	xpath("//div[contains(@class, 'dropdown')]//a"),
	xpath("//nav//div[contains(@class, 'dropdown')]"),
	xpath("//ul[contains(@class, 'navbar')]//li[contains(@class, 'dropdown')]"),
	xpath("//header//div[contains(@class, 'dropdown')]"),
}

// optionLocators find the list item for the tenant label. Order matters.
func optionLocators(label string) []locator {
	lit := xpathLiteral(label)
	return []locator{
		xpath(fmt.Sprintf("//li[contains(@class, 'ui-selectonemenu-item') and contains(text(), %s)]", lit)),
		xpath(fmt.Sprintf("//li[contains(@class, 'ui-selectonemenu-item') and contains(., %s)]", lit)),
		xpath(fmt.Sprintf("//li[contains(text(), %s)]", lit)),
	}
}

// xpathLiteral quotes s for use inside an XPath expression. XPath 1.0 has no
// escapes, so a value holding both quote kinds is built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts)-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
