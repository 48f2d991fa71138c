// Package contracts discovers the lines billed under an account.
package contracts

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
)

// MenuSelector matches the entries of the line switcher.
const MenuSelector = "#menu-lignes li"

// tokenParam is the query parameter carrying a line's navigation token.
const tokenParam = "ligne"

// Enumerator reads the line switcher of the current page.
type Enumerator struct {
	driver browser.Driver
	logger *zap.Logger
}

func NewEnumerator(driver browser.Driver, logger *zap.Logger) *Enumerator {
	return &Enumerator{driver: driver, logger: logger.Named("contracts")}
}

// Enumerate returns the account's contracts, the default line first. An
// account without a line switcher yields a single implicit mobile contract.
func (e *Enumerator) Enumerate(ctx context.Context) ([]schemas.Contract, error) {
	html, err := e.driver.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting line switcher: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing line switcher: %w", err)
	}

	found := Parse(doc)
	if len(found) == 0 {
		e.logger.Info("No line switcher found, using the current contract only.")
		return []schemas.Contract{{ID: schemas.CurrentContractID, Kind: schemas.ContractMobile}}, nil
	}
	for _, c := range found {
		e.logger.Debug("Contract found.", zap.String("id", c.ID), zap.String("kind", string(c.Kind)))
	}
	return found, nil
}

// Parse extracts contracts from a document holding the line switcher.
// Decorative entries (separators, headings without a link) are skipped.
func Parse(doc *goquery.Document) []schemas.Contract {
	var out []schemas.Contract
	seen := make(map[string]bool)

	doc.Find(MenuSelector).Each(func(_ int, li *goquery.Selection) {
		if li.HasClass("separator") || li.HasClass("sr-divider") {
			return
		}
		a := li.Find("a[href]").First()
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || href == "#" {
			return
		}
		label := strings.Join(strings.Fields(a.Text()), " ")
		if label == "" {
			return
		}

		id := schemas.CurrentContractID
		if len(out) > 0 {
			id = token(href, label)
		}
		if seen[id] {
			return
		}
		seen[id] = true

		out = append(out, schemas.Contract{
			ID:    id,
			Label: label,
			Kind:  Classify(label),
			Href:  href,
		})
	})
	return out
}

// token reads the navigation token of an entry, falling back to the line
// number printed in its label when the link carries none.
func token(href, label string) string {
	if u, err := url.Parse(href); err == nil {
		if v := u.Query().Get(tokenParam); v != "" {
			return v
		}
	}
	if n := PhoneNumber(label); n != "" {
		return n
	}
	return digits(label)
}

// phoneNumber matches a French number, national or +33, with optional
// space or dot grouping.
var phoneNumber = regexp.MustCompile(`(?:\+33\s?|\b0)[1-9](?:[\s.]?\d{2}){4}\b`)

// PhoneNumber returns the first French number in label as ten national
// digits, or "" when there is none. Other figures in the label ("5Go",
// "Box 8") are ignored.
func PhoneNumber(label string) string {
	m := phoneNumber.FindString(label)
	if m == "" {
		return ""
	}
	n := digits(m)
	if strings.HasPrefix(m, "+33") {
		n = "0" + strings.TrimPrefix(n, "33")
	}
	return n
}

// Classify reports whether a line label carries a mobile number (06/07
// prefix) or a landline. A label without a number is a fixed offer.
func Classify(label string) schemas.ContractKind {
	n := PhoneNumber(label)
	if strings.HasPrefix(n, "06") || strings.HasPrefix(n, "07") {
		return schemas.ContractMobile
	}
	return schemas.ContractFixed
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// SubPath is the folder bills of c are saved under. Single-contract
// accounts keep everything at the root.
func SubPath(c schemas.Contract, total int) string {
	if total <= 1 {
		return ""
	}
	return c.Label
}

// DedupeKeys are the record attributes identifying a saved bill.
func DedupeKeys(total int) []string {
	if total <= 1 {
		return []string{"filename"}
	}
	return []string{"subPath", "filename"}
}

// URL resolves the navigation link of c against the portal base URL.
func URL(base string, c schemas.Contract) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid portal base url: %w", err)
	}
	ref, err := url.Parse(c.Href)
	if err != nil {
		return "", fmt.Errorf("invalid link for contract %s: %w", c.ID, err)
	}
	return b.ResolveReference(ref).String(), nil
}
