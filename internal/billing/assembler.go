package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
	"github.com/xkilldash9x/telco-harvester/internal/config"
)

// Page selectors of the bills page.
const (
	MoreBillsLegacySelector = `button[onclick="plusFacture(); return false;"]`
	MoreBillsAltSelector    = `button.js-more-bills`
	BannerSelector          = `div.sr-inline.sr-xs-block, [id*="lastBill"]`
	HistorySelector         = `#blocAjax .sr-container-content-line, [id*="accordion-bill"]`
	UnavailableSelector     = `#factureIndisponible`

	unavailableText = "momentanément indisponible"
)

// PageResult is the outcome of extracting one bills page.
type PageResult struct {
	// Records holds the current bill first, then history in page order.
	Records []schemas.BillRecord
	// Rejected holds the row-level parse failures that were skipped.
	Rejected []error
}

// ExtractPage reads every banner and history row of a bills page snapshot.
// It returns schemas.ErrVendorDown when the page reports billing as
// unavailable.
func ExtractPage(doc *goquery.Document) (PageResult, error) {
	if unavailable(doc) {
		return PageResult{}, schemas.ErrVendorDown
	}

	var res PageResult
	collect := func(row *goquery.Selection) {
		records, err := ExtractRow(row)
		if err != nil {
			res.Rejected = append(res.Rejected, err)
			return
		}
		res.Records = append(res.Records, records...)
	}

	doc.Find(BannerSelector).Each(func(_ int, row *goquery.Selection) {
		if row.ParentsFiltered(BannerSelector).Length() == 0 {
			collect(row)
		}
	})
	doc.Find(HistorySelector).Each(func(_ int, row *goquery.Selection) {
		if row.ParentsFiltered(HistorySelector).Length() == 0 {
			collect(row)
		}
	})
	return res, nil
}

func unavailable(doc *goquery.Document) bool {
	if doc.Find(UnavailableSelector).Length() > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(doc.Find("body").Text()), unavailableText)
}

// Assembler expands the bill history of the displayed contract and extracts
// it.
type Assembler struct {
	driver browser.Driver
	cfg    config.HarvestConfig
	logger *zap.Logger
}

// NewAssembler creates an Assembler working on driver's page.
func NewAssembler(driver browser.Driver, cfg config.HarvestConfig, logger *zap.Logger) *Assembler {
	return &Assembler{driver: driver, cfg: cfg, logger: logger.Named("assembler")}
}

// Assemble loads all older bills, then extracts the page and tags every
// record with subPath. A vendor-down page aborts with schemas.ErrVendorDown.
func (a *Assembler) Assemble(ctx context.Context, subPath string) ([]schemas.BillRecord, error) {
	down, err := a.driver.Exists(ctx, UnavailableSelector)
	if err != nil {
		return nil, fmt.Errorf("checking bills availability: %w", err)
	}
	if down {
		return nil, schemas.ErrVendorDown
	}

	pages, err := a.expand(ctx)
	if err != nil {
		return nil, err
	}

	html, err := a.driver.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting bills page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing bills page: %w", err)
	}

	res, err := ExtractPage(doc)
	if err != nil {
		return nil, err
	}
	for _, rej := range res.Rejected {
		a.logger.Warn("Skipping unparsable bill row.", zap.Error(rej))
	}
	for i := range res.Records {
		res.Records[i].SubPath = subPath
	}

	a.logger.Info("Bills extracted.",
		zap.String("sub_path", subPath),
		zap.Int("pages_loaded", pages),
		zap.Int("records", len(res.Records)),
		zap.Int("rejected", len(res.Rejected)),
	)
	return res.Records, nil
}

// expand clicks the "more bills" control until it goes away or is disabled,
// bounded by MaxPages. It returns the number of clicks.
func (a *Assembler) expand(ctx context.Context) (int, error) {
	for page := 0; page < a.cfg.MaxPages; page++ {
		control, err := a.moreControl(ctx)
		if err != nil {
			return page, err
		}
		if control == "" {
			return page, nil
		}

		before, err := a.driver.Count(ctx, HistorySelector)
		if err != nil {
			return page, fmt.Errorf("counting bill rows: %w", err)
		}
		a.logger.Debug("Loading older bills.", zap.String("control", control), zap.Int("rows", before))
		if err := a.driver.Click(ctx, control); err != nil {
			return page, fmt.Errorf("loading older bills: %w", err)
		}
		if err := a.waitSettled(ctx, before); err != nil {
			return page, err
		}
	}
	a.logger.Warn("Stopped loading older bills at the page limit.", zap.Int("max_pages", a.cfg.MaxPages))
	return a.cfg.MaxPages, nil
}

// moreControl returns the selector of the active pagination control, or "".
func (a *Assembler) moreControl(ctx context.Context) (string, error) {
	ok, err := a.driver.Exists(ctx, MoreBillsLegacySelector)
	if err != nil {
		return "", err
	}
	if ok {
		return MoreBillsLegacySelector, nil
	}

	ok, err = a.driver.Exists(ctx, MoreBillsAltSelector)
	if err != nil || !ok {
		return "", err
	}
	_, disabled, err := a.driver.Attribute(ctx, MoreBillsAltSelector, "disabled")
	if err != nil || disabled {
		return "", err
	}
	return MoreBillsAltSelector, nil
}

// waitSettled polls the history row count until it stops moving. The list
// loads server side with no completion event, so a stable count over one
// interval (after growth, or after the control went away) stands in for one.
// A slow page is tolerated: the next round simply clicks again.
func (a *Assembler) waitSettled(ctx context.Context, before int) error {
	last := -1
	b := browser.Backoff{
		Initial: a.cfg.SettleDelay,
		Max:     4 * a.cfg.SettleDelay,
		Factor:  1.5,
		Timeout: a.cfg.SettleTimeout,
	}
	err := browser.PollUntil(ctx, b, func(ctx context.Context) (bool, error) {
		n, err := a.driver.Count(ctx, HistorySelector)
		if err != nil {
			return false, err
		}
		stable := n == last
		last = n
		if !stable {
			return false, nil
		}
		if n > before {
			return true, nil
		}
		control, err := a.moreControl(ctx)
		return control == "", err
	})
	if errors.Is(err, browser.ErrPollTimeout) {
		a.logger.Debug("Bill list did not settle in time.", zap.Int("rows_before", before), zap.Int("rows_now", last))
		return nil
	}
	if err != nil {
		return fmt.Errorf("waiting for older bills: %w", err)
	}
	return nil
}
