// Package auth drives the portal login: it works out where the landing page
// left the session, logs out stale sessions and hands the visible browser to
// the user for interactive authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/bridge"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
	"github.com/xkilldash9x/telco-harvester/internal/config"
)

const (
	LoginFieldSelector    = "#username"
	PasswordFieldSelector = "#password"
	LogoutSelector        = `a[href*="openid-connect/logout"]`
	// ReturnToPortalSelector is shown once the identity provider has closed
	// the session.
	ReturnToPortalSelector = `a[href="https://www.sfr.fr/mon-espace-client/"]`
	BrandLogoutSelector    = `a[href*="red-by-sfr.fr"][href*="logout"]`
	// BrandLandingSelector matches either anchor shown after a brand logout.
	BrandLandingSelector = `a[href="https://www.red-by-sfr.fr/"], ` + ReturnToPortalSelector
)

// State is where the landing page left the session.
type State string

const (
	StateUnknown             State = "unknown"
	StateLoginForm           State = "login-form"
	StateAuthenticated       State = "authenticated"
	StateRedLanding          State = "red-landing"
	StateAwaitingInteractive State = "awaiting-interactive"
)

// Result describes an authenticated session.
type Result struct {
	// Credentials are the ones captured during interactive login, or the
	// stored ones when the session was reused. SessionTag is refreshed.
	Credentials schemas.Credentials
	// Reused is true when the existing session matched the stored tag and
	// no login happened.
	Reused bool
	// Interactive is true when the user went through the login form.
	Interactive bool
}

// Machine is the authentication state machine for one browser page.
type Machine struct {
	driver         browser.Driver
	bridge         *bridge.Bridge
	portal         config.PortalConfig
	cfg            config.AuthConfig
	elementTimeout time.Duration
	logger         *zap.Logger

	mu    sync.Mutex
	state State
}

// NewMachine wires a state machine over driver. Authentication events are
// received through b.
func NewMachine(driver browser.Driver, b *bridge.Bridge, cfg *config.Config, logger *zap.Logger) *Machine {
	return &Machine{
		driver:         driver,
		bridge:         b,
		portal:         cfg.Portal,
		cfg:            cfg.Auth,
		elementTimeout: cfg.Browser.ElementTimeout,
		logger:         logger.Named("auth"),
		state:          StateUnknown,
	}
}

// State returns the last state reached.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s {
		m.logger.Debug("Auth state changed", zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// EnsureAuthenticated opens the client space and leaves the page on an
// authenticated session. stored may be nil.
func (m *Machine) EnsureAuthenticated(ctx context.Context, stored *schemas.Credentials) (Result, error) {
	m.setState(StateUnknown)
	if err := m.driver.Navigate(ctx, m.portal.ClientSpaceURL); err != nil {
		return Result{}, schemas.NewError("auth", fmt.Errorf("opening client space: %w", err))
	}

	state, err := m.detect(ctx)
	if err != nil {
		return Result{}, err
	}
	m.setState(state)

	switch state {
	case StateAuthenticated:
		expired, err := m.driver.Exists(ctx, PasswordFieldSelector)
		if err != nil {
			return Result{}, err
		}
		if expired {
			m.logger.Info("Session expired, re-authentication required")
			return m.interactive(ctx, stored)
		}
		if res, ok := m.reuse(ctx, stored); ok {
			return res, nil
		}
		if err := m.Logout(ctx); err != nil {
			return Result{}, err
		}
	case StateRedLanding:
		if err := m.brandLogout(ctx); err != nil {
			return Result{}, err
		}
		if err := m.Logout(ctx); err != nil {
			return Result{}, err
		}
	}
	return m.interactive(ctx, stored)
}

// detect races the login form, the logout anchor and the brand URL.
func (m *Machine) detect(ctx context.Context) (State, error) {
	raceCtx, cancel := context.WithTimeout(ctx, m.elementTimeout)
	defer cancel()

	detectors := map[State]func(context.Context) error{
		StateLoginForm: func(ctx context.Context) error {
			return m.driver.WaitForElement(ctx, LoginFieldSelector, browser.WaitOptions{Timeout: m.elementTimeout})
		},
		StateAuthenticated: func(ctx context.Context) error {
			return m.driver.WaitForElement(ctx, LogoutSelector, browser.WaitOptions{Timeout: m.elementTimeout})
		},
		StateRedLanding: func(ctx context.Context) error {
			return browser.PollUntil(ctx, browser.DefaultBackoff, func(ctx context.Context) (bool, error) {
				u, err := m.driver.CurrentURL(ctx)
				if err != nil {
					return false, err
				}
				return onSite(u, m.portal.RedBrandHost), nil
			})
		},
	}

	winner := make(chan State, len(detectors))
	var wg sync.WaitGroup
	for state, detector := range detectors {
		wg.Add(1)
		go func(state State, detector func(context.Context) error) {
			defer wg.Done()
			if err := detector(raceCtx); err == nil {
				winner <- state
			}
		}(state, detector)
	}
	go func() {
		wg.Wait()
		close(winner)
	}()

	state, ok := <-winner
	cancel()
	wg.Wait()
	if !ok {
		if err := ctx.Err(); err != nil {
			return StateUnknown, err
		}
		return StateUnknown, schemas.NewError("auth", fmt.Errorf("%w: landing page not recognized", schemas.ErrAuthTimeout))
	}
	return state, nil
}

func (m *Machine) reuse(ctx context.Context, stored *schemas.Credentials) (Result, bool) {
	if stored == nil || stored.SessionTag == "" {
		return Result{}, false
	}
	tag, err := m.driver.Cookie(ctx, m.portal.SessionCookie)
	if err != nil {
		m.logger.Warn("Could not read session cookie", zap.Error(err))
		return Result{}, false
	}
	if tag != stored.SessionTag {
		m.logger.Info("Session belongs to another login, logging out")
		return Result{}, false
	}
	m.logger.Info("Reusing existing session")
	return Result{Credentials: *stored, Reused: true}, true
}

// Logout closes the current portal session. It tries up to
// auth.logout_attempts times before failing with ErrAuthTimeout.
func (m *Machine) Logout(ctx context.Context) error {
	maxAttempts := m.cfg.LogoutAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	// logoutOnce already waits for the page to settle, so retries follow
	// each other immediately.
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return m.logoutOnce(ctx)
	}, policy, func(err error, _ time.Duration) {
		m.logger.Warn("Logout attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return schemas.NewError("logout",
		fmt.Errorf("%w after %d attempts: %v", schemas.ErrAuthTimeout, attempt, err))
}

func (m *Machine) logoutOnce(ctx context.Context) error {
	loggedOut, err := m.driver.Exists(ctx, LoginFieldSelector)
	if err != nil {
		return err
	}
	if loggedOut {
		return nil
	}
	if err := m.driver.Click(ctx, LogoutSelector); err != nil {
		return fmt.Errorf("clicking logout: %w", err)
	}
	if err := sleep(ctx, m.cfg.LogoutSettle); err != nil {
		return err
	}
	if err := m.driver.WaitForElement(ctx, ReturnToPortalSelector, browser.WaitOptions{Timeout: m.elementTimeout}); err != nil {
		return fmt.Errorf("waiting for logout confirmation: %w", err)
	}
	if err := m.driver.Navigate(ctx, m.portal.ClientSpaceURL); err != nil {
		return err
	}
	return m.driver.WaitForElement(ctx, LoginFieldSelector, browser.WaitOptions{Timeout: m.elementTimeout})
}

func (m *Machine) brandLogout(ctx context.Context) error {
	m.logger.Info("Landed on the brand portal, logging out there first")
	if err := m.driver.Click(ctx, BrandLogoutSelector); err != nil {
		return schemas.NewError("logout", fmt.Errorf("brand logout: %w", err))
	}
	if err := m.driver.WaitForElement(ctx, BrandLandingSelector, browser.WaitOptions{Timeout: m.elementTimeout}); err != nil {
		return schemas.NewError("logout", fmt.Errorf("%w: brand logout: %v", schemas.ErrAuthTimeout, err))
	}
	return m.driver.Navigate(ctx, m.portal.ClientSpaceURL)
}

// interactive shows the page to the user and blocks until the watcher
// reports an authenticated landing or auth.interactive_timeout elapses.
func (m *Machine) interactive(ctx context.Context, stored *schemas.Credentials) (Result, error) {
	m.setState(StateAwaitingInteractive)
	if stored != nil && !stored.IsZero() {
		m.prefill(ctx, stored)
	}

	wait, cancelExpect := m.bridge.Expect(bridge.TypeAuthenticated)
	defer cancelExpect()

	if err := m.driver.SetVisible(ctx, true); err != nil {
		return Result{}, fmt.Errorf("showing login page: %w", err)
	}
	m.logger.Info("Waiting for the user to log in", zap.Duration("timeout", m.cfg.InteractiveTimeout))

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.InteractiveTimeout)
	defer cancel()

	watcher := NewWatcher(m.driver, m.bridge, m.portal, m.cfg.WatchInterval, m.logger)
	watchDone := make(chan error, 1)
	go func() { watchDone <- watcher.Run(waitCtx) }()

	msg, err := wait(waitCtx)
	cancel()
	if werr := <-watchDone; werr != nil && !errors.Is(werr, context.Canceled) && !errors.Is(werr, context.DeadlineExceeded) {
		m.logger.Warn("Authentication watcher stopped", zap.Error(werr))
	}

	if herr := m.driver.SetVisible(context.WithoutCancel(ctx), false); herr != nil {
		m.logger.Warn("Could not hide the browser", zap.Error(herr))
	}

	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, schemas.NewError("auth", fmt.Errorf("%w: no login within %s", schemas.ErrAuthTimeout, m.cfg.InteractiveTimeout))
	}

	res := Result{Interactive: true}
	if payload, ok := msg.Payload.(bridge.AuthenticatedPayload); ok {
		res.Credentials = payload.Credentials
	}
	if res.Credentials.Login == "" && stored != nil {
		res.Credentials.Login = stored.Login
		res.Credentials.Password = stored.Password
	}
	tag, err := m.driver.Cookie(ctx, m.portal.SessionCookie)
	if err != nil {
		m.logger.Warn("Could not read session cookie", zap.Error(err))
	}
	res.Credentials.SessionTag = tag
	m.setState(StateAuthenticated)
	m.logger.Info("Authenticated")
	return res, nil
}

func (m *Machine) prefill(ctx context.Context, stored *schemas.Credentials) {
	fields := []struct{ selector, value string }{
		{LoginFieldSelector, stored.Login},
		{PasswordFieldSelector, stored.Password},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		ok, err := m.driver.Exists(ctx, f.selector)
		if err != nil || !ok {
			continue
		}
		if err := m.driver.FillField(ctx, f.selector, f.value); err != nil {
			m.logger.Debug("Could not prefill field", zap.String("selector", f.selector), zap.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
