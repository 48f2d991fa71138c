package billing

import (
	"errors"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

// ExtractRow turns one billing row into zero, one or two records: the bill
// itself, then its itemized companion when the row offers a second download.
// Banners of an open or unpaid period give no records and no error. Any
// unparsable field rejects the row with an error wrapping schemas.ErrParse.
func ExtractRow(row *goquery.Selection) ([]schemas.BillRecord, error) {
	shape := detectShape(row)
	if shape == nil {
		return nil, fmt.Errorf("%w: unrecognized billing row", schemas.ErrParse)
	}

	raw, err := shape.read(row)
	if errors.Is(err, errNotBillable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw.hrefs) == 0 {
		return nil, fmt.Errorf("%w: %s row of %s has no download link", schemas.ErrParse, shape.name(), raw.issued)
	}
	return buildRecords(raw), nil
}

func buildRecords(raw rawBill) []schemas.BillRecord {
	date := raw.issued.String()
	base := schemas.BillRecord{
		Amount:      raw.amount,
		Currency:    raw.currency,
		Date:        raw.issued,
		PaymentDate: raw.paid,
		Filename:    BuildFilename(date, raw.amount, raw.currency, false),
		Vendor:      schemas.Vendor,
		SourcePath:  raw.hrefs[0],
		Metadata: schemas.BillMetadata{
			ContentAuthor:  schemas.Vendor,
			IssueDate:      raw.issued,
			DatetimeLabel:  "issueDate",
			IsSubscription: true,
			CarbonCopy:     true,
		},
	}
	records := []schemas.BillRecord{base}

	if len(raw.hrefs) > 1 {
		detailed := base
		if raw.paid != nil {
			paid := *raw.paid
			detailed.PaymentDate = &paid
		}
		detailed.Filename = BuildFilename(date, raw.amount, raw.currency, true)
		detailed.SourcePath = raw.hrefs[1]
		detailed.IsDetailed = true
		records = append(records, detailed)
	}
	return records
}
