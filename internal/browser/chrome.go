package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/telco-harvester/internal/browser/stealth"
	"github.com/xkilldash9x/telco-harvester/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Chrome drives a single Chrome tab through the DevTools protocol.
type Chrome struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	allocCancel context.CancelFunc
	// ctx carries the CDP target. Every action is combined with it.
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Driver = (*Chrome)(nil)

// NewChrome launches Chrome and opens the tab used for the whole run.
func NewChrome(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chrome, error) {
	c := &Chrome{
		cfg:     cfg,
		logger:  logger.Named("chrome"),
		limiter: rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1),
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(c.logger.Sugar().Debugf),
		chromedp.WithErrorf(c.logger.Sugar().Warnf),
	)
	c.allocCancel = allocCancel
	c.ctx = tabCtx
	c.cancel = tabCancel

	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()
	var actions []chromedp.Action
	if cfg.Stealth {
		actions = append(actions, stealth.Apply(stealth.PersonaFor(cfg), c.logger))
	}
	actions = append(actions, chromedp.Navigate("about:blank"))
	if err := c.RunActions(startCtx, actions...); err != nil {
		c.Close()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	c.logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless), zap.String("user_data_dir", cfg.UserDataDir))
	return c, nil
}

// AllocatorOptions builds the Chrome launch options on top of chromedp's
// defaults.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// allocatorFlags returns the flags layered over the defaults. A false boolean
// removes a default flag, which is how enable-automation is dropped: the
// portal refuses some flows when it is set.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"enable-automation":         false,
		"headless":                  cfg.Headless,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-blink-features":    "AutomationControlled",
		"disable-extensions":        true,
	}
	if !cfg.Headless {
		flags["hide-scrollbars"] = false
		flags["mute-audio"] = false
	}
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	return flags
}

// Close shuts the tab and the browser process down.
func (c *Chrome) Close() error {
	if c.cancel != nil {
		// Give Chrome a chance to flush the profile before the allocator kills it.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
		_ = chromedp.Cancel(closeCtx)
		cancel()
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}

// RunActions runs actions against the tab, bounded by ctx as well as the
// tab's own lifetime. The context error takes precedence over CDP errors.
func (c *Chrome) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := operationContext(c.ctx, ctx)
	defer cancel()

	err := chromedp.Run(combined, actions...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.ctx.Err() != nil {
			return fmt.Errorf("browser session closed: %w", c.ctx.Err())
		}
	}
	return err
}

func (c *Chrome) pace(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("action pacing interrupted: %w", err)
	}
	return nil
}

func (c *Chrome) elementTimeout(opts WaitOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return c.cfg.ElementTimeout
}

// Navigate loads url and waits for the document to be ready.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	c.logger.Debug("Navigating.", zap.String("url", url))

	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	defer cancel()
	if err := c.RunActions(navCtx, chromedp.Navigate(url)); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, c.cfg.NavigationTimeout, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.RunActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// WaitForElement polls the page until selector matches, optionally requiring
// the match to contain opts.TextFilter.
func (c *Chrome) WaitForElement(ctx context.Context, selector string, opts WaitOptions) error {
	timeout := c.elementTimeout(opts)
	script := fmt.Sprintf(`(() => {
		const filter = %s;
		return Array.from(document.querySelectorAll(%s)).some(e => filter === "" || (e.textContent || "").includes(filter));
	})()`, jsString(opts.TextFilter), jsString(selector))

	err := PollUntil(ctx, Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 1.5, Timeout: timeout}, func(ctx context.Context) (bool, error) {
		var found bool
		if err := c.Evaluate(ctx, script, &found); err != nil {
			return false, err
		}
		return found, nil
	})
	if errors.Is(err, ErrPollTimeout) {
		return fmt.Errorf("%w: %q after %v", ErrWaitTimeout, selector, timeout)
	}
	return err
}

func (c *Chrome) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	err := c.Evaluate(ctx, fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector)), &found)
	return found, err
}

func (c *Chrome) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := c.Evaluate(ctx, fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector)), &n)
	return n, err
}

func (c *Chrome) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var res struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	script := fmt.Sprintf(`(() => {
		const e = document.querySelector(%s);
		if (!e || !e.hasAttribute(%s)) return {found: false, value: ""};
		return {found: true, value: e.getAttribute(%s) || ""};
	})()`, jsString(selector), jsString(name), jsString(name))
	if err := c.Evaluate(ctx, script, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

// Click waits for selector and dispatches a DOM click on it. A DOM click also
// reaches anchors tucked inside collapsed menus.
func (c *Chrome) Click(ctx context.Context, selector string) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	if err := c.WaitForElement(ctx, selector, WaitOptions{}); err != nil {
		return fmt.Errorf("click on '%s': %w", selector, err)
	}
	var clicked bool
	script := fmt.Sprintf(`(() => { const e = document.querySelector(%s); if (!e) return false; e.click(); return true; })()`, jsString(selector))
	if err := c.Evaluate(ctx, script, &clicked); err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	if !clicked {
		return fmt.Errorf("click action failed for selector '%s': element vanished", selector)
	}
	c.logger.Debug("Clicked.", zap.String("selector", selector))
	return nil
}

// FillField sets the value of an input and fires the events frameworks listen to.
func (c *Chrome) FillField(ctx context.Context, selector, value string) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	if err := c.WaitForElement(ctx, selector, WaitOptions{}); err != nil {
		return fmt.Errorf("fill '%s': %w", selector, err)
	}
	script := fmt.Sprintf(`(() => {
		const e = document.querySelector(%s);
		e.focus();
		e.value = %s;
		e.dispatchEvent(new Event('input', {bubbles: true}));
		e.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, jsString(selector), jsString(value))
	var ok bool
	if err := c.Evaluate(ctx, script, &ok); err != nil {
		return fmt.Errorf("fill '%s' failed: %w", selector, err)
	}
	return nil
}

func (c *Chrome) Value(ctx context.Context, selector string) (string, error) {
	var v string
	script := fmt.Sprintf(`(() => { const e = document.querySelector(%s); return e && typeof e.value === "string" ? e.value : ""; })()`, jsString(selector))
	err := c.Evaluate(ctx, script, &v)
	return v, err
}

func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.RunActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to snapshot document: %w", err)
	}
	return html, nil
}

// Evaluate runs script in the page and decodes its result into res. Promises
// are awaited. Without a deadline on ctx the element timeout applies.
func (c *Chrome) Evaluate(ctx context.Context, script string, res interface{}) error {
	opCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, c.elementTimeout(WaitOptions{}))
		defer cancel()
	}

	err := c.RunActions(opCtx, chromedp.Evaluate(script, res, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("script evaluation timed out: %w", err)
		}
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

func (c *Chrome) Cookie(ctx context.Context, name string) (string, error) {
	var cookies []*network.Cookie
	err := c.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("failed to read cookies: %w", err)
	}
	for _, ck := range cookies {
		if ck.Name == name {
			return ck.Value, nil
		}
	}
	return "", nil
}

// SetVisible restores or minimizes the browser window. Headless browsers have
// nothing to show, so the call only logs.
func (c *Chrome) SetVisible(ctx context.Context, visible bool) error {
	if c.cfg.Headless {
		c.logger.Warn("Cannot surface a headless browser; interactive login needs browser.headless=false.", zap.Bool("visible", visible))
		return nil
	}
	state := cdpbrowser.WindowStateMinimized
	if visible {
		state = cdpbrowser.WindowStateNormal
	}
	return c.RunActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		windowID, _, err := cdpbrowser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve window: %w", err)
		}
		return cdpbrowser.SetWindowBounds(windowID, &cdpbrowser.Bounds{WindowState: state}).Do(ctx)
	}))
}

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
