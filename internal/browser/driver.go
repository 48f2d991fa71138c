// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned when an element never appeared within its bound.
var ErrWaitTimeout = errors.New("timed out waiting for element")

// WaitOptions tunes WaitForElement.
type WaitOptions struct {
	// Timeout overrides the driver's element timeout when positive.
	Timeout time.Duration
	// TextFilter, when set, only matches elements whose text contains it.
	TextFilter string
}

// Driver is the set of page capabilities the harvester needs. Every call is a
// suspension point against a single page and must not be issued concurrently
// with a call that mutates the page.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	WaitForElement(ctx context.Context, selector string, opts WaitOptions) error
	Exists(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
	// Attribute reports the value of an attribute on the first match and
	// whether it is present at all.
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Click(ctx context.Context, selector string) error
	FillField(ctx context.Context, selector, value string) error
	// Value reads the live value of a form field, "" if the field is absent.
	Value(ctx context.Context, selector string) (string, error)
	// HTML snapshots the current document.
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, res interface{}) error
	// Cookie returns the value of a cookie visible to the page, "" if unset.
	Cookie(ctx context.Context, name string) (string, error)
	// SetVisible surfaces the page to a human, or hides it again.
	SetVisible(ctx context.Context, visible bool) error
}
