package auth

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/bridge"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
	"github.com/xkilldash9x/telco-harvester/internal/config"
)

// Watcher polls the visible page while the user logs in. It remembers what
// was typed into the login form and posts TypeAuthenticated once the portal
// landing shows a logout anchor.
type Watcher struct {
	driver   browser.Driver
	bridge   *bridge.Bridge
	portal   config.PortalConfig
	interval time.Duration
	logger   *zap.Logger
}

func NewWatcher(driver browser.Driver, b *bridge.Bridge, portal config.PortalConfig, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		driver:   driver,
		bridge:   b,
		portal:   portal,
		interval: interval,
		logger:   logger.Named("watcher"),
	}
}

// Run polls until the authenticated event is posted or ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var captured schemas.Credentials
	for {
		w.capture(ctx, &captured)

		current, ok := w.authenticated(ctx)
		if ok {
			w.logger.Debug("Authenticated landing detected", zap.String("url", current))
			return w.bridge.Post(ctx, bridge.TypeAuthenticated, bridge.AuthenticatedPayload{
				URL:         current,
				Credentials: captured,
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// capture keeps the last non-empty values; the form is gone once the
// portal redirects after submission.
func (w *Watcher) capture(ctx context.Context, creds *schemas.Credentials) {
	if v, err := w.driver.Value(ctx, LoginFieldSelector); err == nil && v != "" {
		creds.Login = v
	}
	if v, err := w.driver.Value(ctx, PasswordFieldSelector); err == nil && v != "" {
		creds.Password = v
	}
}

func (w *Watcher) authenticated(ctx context.Context) (string, bool) {
	current, err := w.driver.CurrentURL(ctx)
	if err != nil || !w.onLanding(current) {
		return current, false
	}
	ok, err := w.driver.Exists(ctx, LogoutSelector)
	if err != nil || !ok {
		return current, false
	}
	// An expired session shows the logout anchor next to the password prompt.
	expired, err := w.driver.Exists(ctx, PasswordFieldSelector)
	if err != nil {
		return current, false
	}
	return current, !expired
}

func (w *Watcher) onLanding(current string) bool {
	page, _, _ := strings.Cut(current, "#")
	for _, landing := range []string{w.portal.ClientSpaceURL, w.portal.HomepageURL} {
		if landing == "" {
			continue
		}
		if current == landing {
			return true
		}
		if base, _, _ := strings.Cut(landing, "#"); page == base {
			return true
		}
	}
	return false
}
