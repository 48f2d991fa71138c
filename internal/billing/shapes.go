package billing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

// errNotBillable marks a banner whose period is still open or unpaid. It
// yields no records and is not a parse failure.
var errNotBillable = errors.New("bill not yet billable")

// rawBill is what a row shape reads before records are built.
type rawBill struct {
	amount   float64
	currency string
	issued   civil.Date
	paid     *civil.Date
	hrefs    []string
}

// rowShape is one of the known page templates for a billing row.
type rowShape interface {
	name() string
	banner() bool
	matches(row *goquery.Selection) bool
	read(row *goquery.Selection) (rawBill, error)
}

// shapes is checked in order. The first match wins.
var shapes = []rowShape{
	bannerLegacy{},
	bannerAlt{},
	historyLegacy{},
	historyAccordion{},
}

func detectShape(row *goquery.Selection) rowShape {
	for _, s := range shapes {
		if s.matches(row) {
			return s
		}
	}
	return nil
}

func idContains(row *goquery.Selection, fragment string) bool {
	id, _ := row.Attr("id")
	return strings.Contains(id, fragment)
}

// text returns the whitespace-collapsed text of s.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func downloadLinks(s *goquery.Selection) []string {
	var hrefs []string
	anchors := s.Filter("a[href]")
	if anchors.Length() == 0 {
		anchors = s.Find("a[href]")
	}
	anchors.Each(func(_ int, a *goquery.Selection) {
		if href, _ := a.Attr("href"); strings.TrimSpace(href) != "" && !strings.HasPrefix(href, "#") {
			hrefs = append(hrefs, strings.TrimSpace(href))
		}
	})
	return hrefs
}

func parseErr(shape, field string, err error) error {
	if errors.Is(err, schemas.ErrParse) {
		return fmt.Errorf("%s %s: %w", shape, field, err)
	}
	return fmt.Errorf("%w: %s %s: %v", schemas.ErrParse, shape, field, err)
}

// notYetClosed reports the "billed from" wording of an open period.
func notYetClosed(s string) bool {
	return strings.Contains(strings.ToLower(s), "à partir du")
}

// paymentMarker finds the wording confirming a bill was settled. Accents are
// folded so "Payée", "payee" and "PAYÉE" all match.
var paymentMarker = regexp.MustCompile(`\b(payee?|reglee?|prelevee?)\s+le\b`)

func hasPaymentMarker(s string) bool {
	return paymentMarker.MatchString(foldAccents(strings.ToLower(s)))
}

// bannerLegacy is the current-bill banner of the older template:
//
//	<div class="sr-inline sr-xs-block ">
//	  <div><span>42,50 €</span></div>
//	  <div><span>Payée le 12/05/2023</span><span>10/05/2023</span></div>
//	  <div><a href="/facture.pdf">…</a><a href="/detail.pdf">…</a></div>
//	</div>
type bannerLegacy struct{}

func (bannerLegacy) name() string { return "banner-legacy" }
func (bannerLegacy) banner() bool { return true }

func (bannerLegacy) matches(row *goquery.Selection) bool {
	return row.HasClass("sr-inline") && row.HasClass("sr-xs-block")
}

func (s bannerLegacy) read(row *goquery.Selection) (rawBill, error) {
	if notYetClosed(text(row)) {
		return rawBill{}, errNotBillable
	}
	cells := row.Children()
	if cells.Length() < 3 {
		return rawBill{}, parseErr(s.name(), "layout", fmt.Errorf("%d cells", cells.Length()))
	}

	var b rawBill
	var err error
	if b.amount, b.currency, err = ParseAmount(cells.Eq(0).Find("span").First().Text()); err != nil {
		return rawBill{}, parseErr(s.name(), "amount", err)
	}

	spans := cells.Eq(1).Find("span")
	status := spans.Eq(0).Text()
	// A due date ("À payer avant le ...") sits in the same slot as the
	// settled date; only the latter makes the bill billable.
	if !hasPaymentMarker(status) {
		return rawBill{}, errNotBillable
	}
	if b.issued, err = parseNumericDate(spans.Eq(1).Text()); err != nil {
		return rawBill{}, parseErr(s.name(), "issue date", err)
	}
	paid, err := parseNumericDate(status)
	if err != nil {
		return rawBill{}, errNotBillable
	}
	b.paid = &paid

	b.hrefs = downloadLinks(cells.Eq(2))
	return b, nil
}

// bannerAlt is the current-bill banner of the newer template, identified by
// an id containing "lastBill".
type bannerAlt struct{}

func (bannerAlt) name() string { return "banner-alt" }
func (bannerAlt) banner() bool { return true }

func (bannerAlt) matches(row *goquery.Selection) bool { return idContains(row, "lastBill") }

func (s bannerAlt) read(row *goquery.Selection) (rawBill, error) {
	status := text(row.Find(".bill-status"))
	if notYetClosed(text(row)) || !hasPaymentMarker(status) {
		return rawBill{}, errNotBillable
	}

	var b rawBill
	var err error
	if b.amount, b.currency, err = ParseAmount(row.Find(".amount").First().Text()); err != nil {
		return rawBill{}, parseErr(s.name(), "amount", err)
	}
	dateText := text(row.Find(".bill-date"))
	if b.issued, err = parseLongDate(dateText); err != nil {
		if b.issued, err = parseNumericDate(dateText); err != nil {
			return rawBill{}, parseErr(s.name(), "issue date", err)
		}
	}

	paid, err := parseNumericDate(status)
	if err != nil {
		paid, err = parseDayMonth(afterMarker(status), b.issued)
	}
	if err == nil {
		b.paid = &paid
	}

	b.hrefs = downloadLinks(row.Find("a.download"))
	if len(b.hrefs) == 0 {
		b.hrefs = downloadLinks(row)
	}
	return b, nil
}

// historyLegacy is one line of the older history list (#blocAjax):
// children[0] amount, children[1] issue date plus an optional payment
// fragment such as "12 mai -", children[4] downloads.
type historyLegacy struct{}

func (historyLegacy) name() string { return "history-legacy" }
func (historyLegacy) banner() bool { return false }

func (historyLegacy) matches(row *goquery.Selection) bool {
	return row.HasClass("sr-container-content-line")
}

// legacyPaymentFragment matches the compacted "12mai-" the list prints while
// the payment date is still retained.
var legacyPaymentFragment = regexp.MustCompile(`([0-9]{2}[a-zàâçéèêëîïôûùü]{3,4}\.?-)`)

func (s historyLegacy) read(row *goquery.Selection) (rawBill, error) {
	cells := row.Children()
	if cells.Length() < 5 {
		return rawBill{}, parseErr(s.name(), "layout", fmt.Errorf("%d cells", cells.Length()))
	}

	var b rawBill
	var err error
	if b.amount, b.currency, err = ParseAmount(cells.Eq(0).Find("span").First().Text()); err != nil {
		return rawBill{}, parseErr(s.name(), "amount", err)
	}
	if b.issued, err = parseLongDate(cells.Eq(1).Find("span").First().Text()); err != nil {
		return rawBill{}, parseErr(s.name(), "issue date", err)
	}

	compact := strings.ToLower(strings.Join(strings.Fields(cells.Eq(1).Text()), ""))
	if frag := legacyPaymentFragment.FindString(compact); frag != "" {
		paid, err := parseDayMonth(frag, b.issued)
		if err != nil {
			return rawBill{}, parseErr(s.name(), "payment date", err)
		}
		b.paid = &paid
	}

	b.hrefs = downloadLinks(cells.Eq(4))
	return b, nil
}

// historyAccordion is one entry of the newer accordion history, identified
// by an id containing "accordion-bill". Its label reads
// "Facture du 10 avr. 2023 - Payé le 14 avr." or the same with an en dash.
type historyAccordion struct{}

func (historyAccordion) name() string { return "history-accordion" }
func (historyAccordion) banner() bool { return false }

func (historyAccordion) matches(row *goquery.Selection) bool {
	return idContains(row, "accordion-bill")
}

func (s historyAccordion) read(row *goquery.Selection) (rawBill, error) {
	var b rawBill
	var err error
	if b.amount, b.currency, err = ParseAmount(row.Find(".bill-amount").First().Text()); err != nil {
		return rawBill{}, parseErr(s.name(), "amount", err)
	}

	label := text(row.Find(".bill-label").First())
	// The separator varies between a hyphen and a dash, so both dates are
	// located by their own wording rather than by splitting.
	if b.issued, err = parseLongDate(label); err != nil {
		return rawBill{}, parseErr(s.name(), "issue date", err)
	}
	if hasPaymentMarker(label) {
		paid, err := parseDayMonth(afterMarker(label), b.issued)
		if err != nil {
			return rawBill{}, parseErr(s.name(), "payment date", err)
		}
		b.paid = &paid
	}

	b.hrefs = downloadLinks(row.Find(".bill-body"))
	return b, nil
}

// afterMarker returns the text following "Payé le"/"Payée le" and friends.
func afterMarker(s string) string {
	folded := foldAccents(strings.ToLower(s))
	loc := paymentMarker.FindStringIndex(folded)
	if loc == nil {
		return s
	}
	return folded[loc[1]:]
}
