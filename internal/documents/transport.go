// Package documents attaches the document payload to bill records, either as
// a portal URL or as an inline data URI fetched through the live session.
package documents

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	KindURL     = "url"
	KindDataURI = "datauri"

	pdfMediaType = "application/pdf"
)

// Transport fills FileURL or DataURI on records from their SourcePath.
type Transport interface {
	Attach(ctx context.Context, records []schemas.BillRecord) ([]schemas.BillRecord, error)
}

// New returns the transport named kind.
func New(kind, baseURL string, driver browser.Driver, logger *zap.Logger) (Transport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal base url: %w", err)
	}
	switch kind {
	case KindURL:
		return &URLTransport{base: base}, nil
	case KindDataURI:
		return &DataURITransport{base: base, driver: driver, logger: logger.Named("documents")}, nil
	default:
		return nil, fmt.Errorf("unknown document transport %q", kind)
	}
}

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid document link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// URLTransport points FileURL at the portal document.
type URLTransport struct {
	base *url.URL
}

func (t *URLTransport) Attach(ctx context.Context, records []schemas.BillRecord) ([]schemas.BillRecord, error) {
	out := make([]schemas.BillRecord, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := resolve(t.base, r.SourcePath)
		if err != nil {
			return nil, err
		}
		r.FileURL = u
		r.DataURI = ""
		out = append(out, r)
	}
	return out, nil
}

// DataURITransport downloads each document inside the page so the portal
// session cookies apply, and inlines it as a base64 data URI. Records whose
// download fails are dropped with a warning.
type DataURITransport struct {
	base   *url.URL
	driver browser.Driver
	logger *zap.Logger
}

const fetchScript = `(async () => {
  const res = await fetch(%s, {credentials: 'include'});
  if (!res.ok) throw new Error('HTTP ' + res.status);
  const blob = await res.blob();
  return await new Promise((resolve, reject) => {
    const reader = new FileReader();
    reader.onload = () => resolve(reader.result);
    reader.onerror = () => reject(reader.error);
    reader.readAsDataURL(blob);
  });
})()`

func (t *DataURITransport) Attach(ctx context.Context, records []schemas.BillRecord) ([]schemas.BillRecord, error) {
	out := make([]schemas.BillRecord, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := resolve(t.base, r.SourcePath)
		if err != nil {
			return nil, err
		}
		dataURI, err := t.fetch(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logger.Warn("Could not download bill", zap.String("filename", r.Filename), zap.Error(err))
			continue
		}
		r.DataURI = dataURI
		r.FileURL = ""
		out = append(out, r)
	}
	return out, nil
}

func (t *DataURITransport) fetch(ctx context.Context, u string) (string, error) {
	lit, err := json.Marshal(u)
	if err != nil {
		return "", err
	}
	var result string
	if err := t.driver.Evaluate(ctx, fmt.Sprintf(fetchScript, lit), &result); err != nil {
		return "", err
	}
	return normalizeDataURI(result)
}

// normalizeDataURI forces the PDF media type; the portal serves documents
// as application/octet-stream.
func normalizeDataURI(s string) (string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", fmt.Errorf("download did not yield a data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") || data == "" {
		return "", fmt.Errorf("download yielded an empty or non-base64 document")
	}
	return "data:" + pdfMediaType + ";base64," + data, nil
}
