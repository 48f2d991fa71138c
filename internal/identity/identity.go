// Package identity reads the account holder from the personal information page.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
)

// Selectors of the personal information page.
const (
	EmailSelector       = "#emailContact"
	NameSelector        = "#nomTitulaire"
	AddressSelector     = "#adresseContact"
	MobilePhoneSelector = "#telephoneContactMobile"
	HomePhoneSelector   = "#telephoneContactFixe"
	// ErrorBannerSelector is shown instead of the contact block when the
	// session may not read personal data.
	ErrorBannerSelector = ".sr-alert-error, #erreurInfosPerso"
)

// Result is what the information page gave.
type Result struct {
	// Account is the stable account identifier: the contact mail, or the
	// login (else the vendor) when the page refused to show personal data.
	Account string
	// Identity is nil when the page refused to show personal data.
	Identity *schemas.UserIdentity
}

// Extractor polls the information page already loaded in the driver.
type Extractor struct {
	driver  browser.Driver
	timeout time.Duration
	logger  *zap.Logger
}

func NewExtractor(driver browser.Driver, timeout time.Duration, logger *zap.Logger) *Extractor {
	return &Extractor{driver: driver, timeout: timeout, logger: logger.Named("identity")}
}

// Extract waits for either the contact block or the error banner. The banner
// is recovered by falling back to login as the account identifier, or to the
// vendor name when no login is known. An empty
// or missing contact mail is schemas.ErrUnknownAccount.
func (e *Extractor) Extract(ctx context.Context, login string) (Result, error) {
	var bannerShown bool
	err := browser.PollUntil(ctx, browser.Backoff{Initial: 250 * time.Millisecond, Max: 2 * time.Second, Factor: 1.5, Timeout: e.timeout},
		func(ctx context.Context) (bool, error) {
			mail, err := e.driver.Exists(ctx, EmailSelector)
			if err != nil || mail {
				return mail, err
			}
			bannerShown, err = e.driver.Exists(ctx, ErrorBannerSelector)
			return bannerShown, err
		})
	if err != nil && !errors.Is(err, browser.ErrPollTimeout) {
		return Result{}, fmt.Errorf("waiting for personal information: %w", err)
	}

	if bannerShown {
		account := login
		if account == "" {
			// Nothing was captured at login either.
			account = schemas.Vendor
		}
		e.logger.Warn("Personal information unavailable, using the login as account identifier.",
			zap.String("account", account), zap.Error(schemas.ErrMissingIdentity))
		return Result{Account: account}, nil
	}

	html, err := e.driver.HTML(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshotting personal information: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("parsing personal information: %w", err)
	}

	ident, err := Parse(doc)
	if err != nil {
		return Result{}, schemas.NewError("identity", err)
	}
	return Result{Account: ident.Email, Identity: ident}, nil
}

// Parse reads the holder from the information page.
func Parse(doc *goquery.Document) (*schemas.UserIdentity, error) {
	email := field(doc, EmailSelector)
	if email == "" {
		return nil, schemas.ErrUnknownAccount
	}

	ident := &schemas.UserIdentity{Email: email}

	fullName := field(doc, NameSelector)
	if fullName != "" {
		given, family, _ := strings.Cut(fullName, " ")
		ident.Name = schemas.PersonName{GivenName: given, FamilyName: family, FullName: fullName}
	}

	if addr := field(doc, AddressSelector); addr != "" {
		ident.Address = []schemas.Address{ParseAddress(addr)}
	}

	if mobile := field(doc, MobilePhoneSelector); mobile != "" {
		ident.Phone = append(ident.Phone, schemas.Phone{Type: schemas.PhoneMobile, Number: mobile})
	}
	if home := field(doc, HomePhoneSelector); home != "" {
		ident.Phone = append(ident.Phone, schemas.Phone{Type: schemas.PhoneHome, Number: home})
	}
	return ident, nil
}

func field(doc *goquery.Document, selector string) string {
	return strings.Join(strings.Fields(doc.Find(selector).First().Text()), " ")
}

var (
	numberRun = regexp.MustCompile(`[0-9]+`)
	// Street and city are printed in capitals; mixed case words (or the
	// complement line) break the runs.
	capitalRun = regexp.MustCompile(`[A-ZÀÂÇÉÈÊËÎÏÔÛÙÜ'\- ]*[A-ZÀÂÇÉÈÊËÎÏÔÛÙÜ]`)
)

// ParseAddress splits a one-line postal address. It is a best-effort
// heuristic by character class, not a validated decomposition: the first
// digit run is the house number, the second the postcode, the first run of
// capitals the street and the second the city.
func ParseAddress(formatted string) schemas.Address {
	addr := schemas.Address{FormattedAddress: strings.Join(strings.Fields(formatted), " ")}

	nums := numberRun.FindAllString(addr.FormattedAddress, 2)
	if len(nums) > 0 {
		addr.HouseNumber = nums[0]
	}
	if len(nums) > 1 {
		addr.PostCode = nums[1]
	}

	var words []string
	for _, w := range capitalRun.FindAllString(addr.FormattedAddress, -1) {
		if w = strings.TrimSpace(w); len([]rune(w)) > 1 {
			words = append(words, w)
		}
	}
	if len(words) > 0 {
		addr.Street = words[0]
	}
	if len(words) > 1 {
		addr.City = words[1]
	}
	return addr
}
