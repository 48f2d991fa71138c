// Package browsertest provides an in-memory browser.Driver over static HTML.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/telco-harvester/internal/browser"
)

// ClickHandler reacts to a click on a selector. It runs without the fake's
// lock held, so it may call any Fake method.
type ClickHandler func(f *Fake) error

// Fake is a browser.Driver serving registered pages. Clicking an anchor whose
// href resolves to a registered page navigates to it, other clicks run the
// handler registered with OnClick.
type Fake struct {
	mu sync.Mutex

	pages     map[string]string
	redirects map[string]string
	url       string
	doc       *goquery.Document
	values    map[string]string
	cookies   map[string]string
	visible   bool

	clickHandlers map[string]ClickHandler
	// OnVisible runs after every SetVisible call, without the lock held.
	OnVisible func(f *Fake, visible bool)
	// EvalFunc answers Evaluate. Nil makes Evaluate fail.
	EvalFunc func(script string, res interface{}) error

	clicks      []string
	navigations []string
	fills       map[string]string
	visibility  []bool
}

var _ browser.Driver = (*Fake)(nil)

// New returns an empty Fake positioned on about:blank.
func New() *Fake {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><body></body></html>"))
	return &Fake{
		pages:         make(map[string]string),
		redirects:     make(map[string]string),
		url:           "about:blank",
		doc:           doc,
		values:        make(map[string]string),
		cookies:       make(map[string]string),
		clickHandlers: make(map[string]ClickHandler),
		fills:         make(map[string]string),
	}
}

// AddPage registers the document served at rawURL.
func (f *Fake) AddPage(rawURL, html string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[rawURL] = html
	return f
}

// Redirect makes navigations to from land on to. An empty to removes the
// redirect.
func (f *Fake) Redirect(from, to string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if to == "" {
		delete(f.redirects, from)
	} else {
		f.redirects[from] = to
	}
	return f
}

// OnClick registers a handler for clicks on selector.
func (f *Fake) OnClick(selector string, h ClickHandler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clickHandlers[selector] = h
	return f
}

// SetCookie sets a cookie visible to the page.
func (f *Fake) SetCookie(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookies[name] = value
}

// Type simulates the user typing value into a field.
func (f *Fake) Type(selector, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[selector] = value
}

// Load replaces the current document with the page registered at rawURL.
func (f *Fake) Load(rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(rawURL)
}

func (f *Fake) load(rawURL string) error {
	html, ok := f.pages[rawURL]
	if !ok {
		return fmt.Errorf("no page registered for %s", rawURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}
	f.url = rawURL
	f.doc = doc
	f.values = make(map[string]string)
	return nil
}

// Mutate edits the live document in place.
func (f *Fake) Mutate(fn func(doc *goquery.Document)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.doc)
}

// Clicks returns the selectors clicked so far.
func (f *Fake) Clicks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicks...)
}

// Navigations returns the URLs navigated to so far.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Filled returns the value last filled into selector.
func (f *Fake) Filled(selector string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.fills[selector]
	return v, ok
}

// Visibility returns the sequence of SetVisible arguments.
func (f *Fake) Visibility() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.visibility...)
}

func (f *Fake) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, rawURL)
	if to, ok := f.redirects[rawURL]; ok {
		rawURL = to
	}
	return f.load(rawURL)
}

func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, ctx.Err()
}

func (f *Fake) find(selector, text string) *goquery.Selection {
	sel := f.doc.Find(selector)
	if text == "" {
		return sel
	}
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), text)
	})
}

// WaitForElement answers immediately: the fake page never changes on its own.
func (f *Fake) WaitForElement(ctx context.Context, selector string, opts browser.WaitOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(selector, opts.TextFilter).Length() == 0 {
		return fmt.Errorf("%w: %q", browser.ErrWaitTimeout, selector)
	}
	return nil
}

func (f *Fake) Exists(ctx context.Context, selector string) (bool, error) {
	n, err := f.Count(ctx, selector)
	return n > 0, err
}

func (f *Fake) Count(ctx context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Find(selector).Length(), ctx.Err()
}

func (f *Fake) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.doc.Find(selector).First().Attr(name)
	return v, ok, ctx.Err()
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	target := f.doc.Find(selector).First()
	if target.Length() == 0 {
		f.mu.Unlock()
		return fmt.Errorf("click on '%s': %w", selector, browser.ErrWaitTimeout)
	}
	f.clicks = append(f.clicks, selector)
	handler := f.clickHandlers[selector]
	href, _ := target.Attr("href")
	f.mu.Unlock()

	if handler != nil {
		return handler(f)
	}
	if href == "" || goquery.NodeName(target) != "a" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.resolve(href)
	if _, ok := f.pages[next]; !ok {
		return nil
	}
	f.navigations = append(f.navigations, next)
	return f.load(next)
}

func (f *Fake) resolve(href string) string {
	base, err := url.Parse(f.url)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func (f *Fake) FillField(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("fill '%s': %w", selector, browser.ErrWaitTimeout)
	}
	f.fills[selector] = value
	f.values[selector] = value
	return nil
}

func (f *Fake) Value(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[selector]; ok {
		return v, ctx.Err()
	}
	v, _ := f.doc.Find(selector).First().Attr("value")
	return v, ctx.Err()
}

func (f *Fake) HTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	html, err := goquery.OuterHtml(f.doc.Find("html"))
	if err != nil {
		return "", err
	}
	return html, ctx.Err()
}

func (f *Fake) Evaluate(ctx context.Context, script string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	eval := f.EvalFunc
	f.mu.Unlock()
	if eval == nil {
		return errors.New("script evaluation not supported by the fake driver")
	}
	return eval(script, res)
}

func (f *Fake) Cookie(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookies[name], ctx.Err()
}

func (f *Fake) SetVisible(ctx context.Context, visible bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.visible = visible
	f.visibility = append(f.visibility, visible)
	hook := f.OnVisible
	f.mu.Unlock()
	if hook != nil {
		hook(f, visible)
	}
	return nil
}

// IsVisible reports the last visibility requested.
func (f *Fake) IsVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}
