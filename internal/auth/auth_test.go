package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/bridge"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
	"github.com/xkilldash9x/telco-harvester/internal/browser/browsertest"
	"github.com/xkilldash9x/telco-harvester/internal/config"
	"github.com/xkilldash9x/telco-harvester/internal/mocks"
)

const (
	clientURL    = "https://www.sfr.fr/mon-espace-client/"
	logoutURL    = "https://www.sfr.fr/auth/realms/sfr/protocol/openid-connect/logout?redirect_uri=https%3A//www.sfr.fr/cas/logout"
	loggedOutURL = "https://www.sfr.fr/cas/logout"
	redURL       = "https://www.red-by-sfr.fr/mon-espace-client/"
	redHomeURL   = "https://www.red-by-sfr.fr/"

	loginPage = `<html><body><form>
<input id="username" name="username">
<input id="password" name="password" type="password">
</form></body></html>`
	landingPage = `<html><body>
<a href="` + logoutURL + `">Me déconnecter</a>
</body></html>`
	expiredPage = `<html><body>
<a href="` + logoutURL + `">Me déconnecter</a>
<input id="password" type="password">
</body></html>`
	loggedOutPage = `<html><body><a href="https://www.sfr.fr/mon-espace-client/">Retour à mon espace client</a></body></html>`
	redPage       = `<html><body><a href="https://www.red-by-sfr.fr/auth/logout">Déconnexion</a></body></html>`
	redHomePage   = `<html><body><a href="https://www.red-by-sfr.fr/">RED by SFR</a></body></html>`
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ElementTimeout = 50 * time.Millisecond
	cfg.Auth.LogoutSettle = 0
	cfg.Auth.InteractiveTimeout = 2 * time.Second
	cfg.Auth.WatchInterval = 2 * time.Millisecond
	return cfg
}

func newMachine(t *testing.T, driver browser.Driver, cfg *config.Config) *Machine {
	t.Helper()
	b := bridge.New(zap.NewNop(), 4)
	t.Cleanup(b.Shutdown)
	return NewMachine(driver, b, cfg, zaptest.NewLogger(t))
}

// userLogsIn simulates the user typing into the form and the portal
// redirecting to the authenticated landing once the surface is shown.
func userLogsIn(login, password, tag string) func(f *browsertest.Fake, visible bool) {
	return func(f *browsertest.Fake, visible bool) {
		if !visible {
			return
		}
		go func() {
			if login != "" {
				f.Type(LoginFieldSelector, login)
				f.Type(PasswordFieldSelector, password)
			}
			time.Sleep(30 * time.Millisecond)
			f.SetCookie("sfrSessionId", tag)
			f.AddPage(clientURL, landingPage)
			_ = f.Load(clientURL)
		}()
	}
}

func TestEnsureAuthenticated_ReusesMatchingSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := browsertest.New()
	f.AddPage(clientURL, landingPage)
	f.SetCookie("sfrSessionId", "tag-1")
	m := newMachine(t, f, testConfig())

	stored := &schemas.Credentials{Login: "0612345678", Password: "secret", SessionTag: "tag-1"}
	res, err := m.EnsureAuthenticated(context.Background(), stored)
	require.NoError(t, err)

	assert.True(t, res.Reused)
	assert.False(t, res.Interactive)
	assert.Equal(t, *stored, res.Credentials)
	assert.Empty(t, f.Clicks(), "a reused session must not be logged out")
	assert.Empty(t, f.Visibility())
	assert.Equal(t, StateAuthenticated, m.State())
}

func TestEnsureAuthenticated_ForeignSessionIsLoggedOut(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, landingPage).
		AddPage(loggedOutURL, loggedOutPage).
		OnClick(LogoutSelector, func(f *browsertest.Fake) error {
			f.AddPage(clientURL, loginPage)
			return f.Load(loggedOutURL)
		})
	f.SetCookie("sfrSessionId", "someone-else")
	f.OnVisible = userLogsIn("0612345678", "secret", "tag-2")
	m := newMachine(t, f, testConfig())

	stored := &schemas.Credentials{Login: "0698765432", Password: "old", SessionTag: "tag-1"}
	res, err := m.EnsureAuthenticated(context.Background(), stored)
	require.NoError(t, err)

	assert.True(t, res.Interactive)
	assert.Equal(t, schemas.Credentials{Login: "0612345678", Password: "secret", SessionTag: "tag-2"}, res.Credentials)
	assert.Equal(t, []string{LogoutSelector}, f.Clicks())
	assert.Equal(t, []bool{true, false}, f.Visibility())
	filled, ok := f.Filled(LoginFieldSelector)
	require.True(t, ok)
	assert.Equal(t, "0698765432", filled, "stored credentials are prefilled")
	assert.Equal(t, StateAuthenticated, m.State())
}

func TestEnsureAuthenticated_LogoutRetriesThenTimesOut(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, landingPage)
	m := newMachine(t, f, testConfig())

	_, err := m.EnsureAuthenticated(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrAuthTimeout)
	assert.Equal(t, schemas.ErrCodeAuthTimeout, schemas.Reason(err))
	assert.Len(t, f.Clicks(), 3)
	assert.Empty(t, f.Visibility())
}

func TestLogout_AttemptsFollowConfig(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, landingPage)
	require.NoError(t, f.Load(clientURL))
	cfg := testConfig()
	cfg.Auth.LogoutAttempts = 2
	core, logs := observer.New(zapcore.WarnLevel)
	b := bridge.New(zap.NewNop(), 4)
	t.Cleanup(b.Shutdown)
	m := NewMachine(f, b, cfg, zap.New(core))

	err := m.Logout(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrAuthTimeout)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Len(t, f.Clicks(), 2)
	assert.Equal(t, 1, logs.FilterMessage("Logout attempt failed").Len(), "one warning per retry")
}

func TestLogout_StopsOnCancel(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, landingPage)
	require.NoError(t, f.Load(clientURL))
	m := newMachine(t, f, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Logout(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, len(f.Clicks()), 1)
}

func TestEnsureAuthenticated_LoginFormGoesInteractive(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, loginPage)
	f.OnVisible = userLogsIn("", "", "tag-3")
	m := newMachine(t, f, testConfig())

	stored := &schemas.Credentials{Login: "0612345678", Password: "secret"}
	res, err := m.EnsureAuthenticated(context.Background(), stored)
	require.NoError(t, err)

	assert.True(t, res.Interactive)
	assert.Equal(t, "0612345678", res.Credentials.Login)
	assert.Equal(t, "secret", res.Credentials.Password)
	assert.Equal(t, "tag-3", res.Credentials.SessionTag)
	assert.Empty(t, f.Clicks())
	pw, ok := f.Filled(PasswordFieldSelector)
	require.True(t, ok)
	assert.Equal(t, "secret", pw)
}

func TestEnsureAuthenticated_RedLanding(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, loginPage).
		AddPage(redURL, redPage).
		AddPage(redHomeURL, redHomePage).
		Redirect(clientURL, redURL).
		OnClick(BrandLogoutSelector, func(f *browsertest.Fake) error {
			f.Redirect(clientURL, "")
			return f.Load(redHomeURL)
		})
	f.OnVisible = userLogsIn("0612345678", "secret", "tag-4")
	m := newMachine(t, f, testConfig())

	res, err := m.EnsureAuthenticated(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, res.Interactive)
	assert.Equal(t, "0612345678", res.Credentials.Login)
	assert.Equal(t, []string{BrandLogoutSelector}, f.Clicks(), "plain logout finds the login form and does not click")
	assert.Equal(t, []string{clientURL, clientURL}, f.Navigations()[:2])
}

func TestEnsureAuthenticated_ExpiredSessionRelogs(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, expiredPage)
	f.SetCookie("sfrSessionId", "tag-1")
	f.OnVisible = userLogsIn("0612345678", "secret", "tag-5")
	m := newMachine(t, f, testConfig())

	stored := &schemas.Credentials{Login: "0612345678", Password: "secret", SessionTag: "tag-1"}
	res, err := m.EnsureAuthenticated(context.Background(), stored)
	require.NoError(t, err)

	assert.False(t, res.Reused, "an expired session is never reused")
	assert.True(t, res.Interactive)
	assert.Equal(t, "tag-5", res.Credentials.SessionTag)
	assert.Empty(t, f.Clicks())
}

func TestEnsureAuthenticated_InteractiveTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Auth.InteractiveTimeout = 50 * time.Millisecond
	f := browsertest.New()
	f.AddPage(clientURL, loginPage)
	m := newMachine(t, f, cfg)

	_, err := m.EnsureAuthenticated(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrAuthTimeout)
	assert.Equal(t, []bool{true, false}, f.Visibility(), "the surface is hidden again")
	assert.False(t, f.IsVisible())
}

func TestEnsureAuthenticated_UnrecognizedLanding(t *testing.T) {
	f := browsertest.New()
	f.AddPage(clientURL, `<html><body><p>Maintenance</p></body></html>`)
	m := newMachine(t, f, testConfig())

	_, err := m.EnsureAuthenticated(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrAuthTimeout)
	assert.Equal(t, StateUnknown, m.State())
}

func TestEnsureAuthenticated_NavigationFailure(t *testing.T) {
	m := newMachine(t, browsertest.New(), testConfig())

	_, err := m.EnsureAuthenticated(context.Background(), nil)
	require.Error(t, err)
	var herr *schemas.HarvestError
	assert.True(t, errors.As(err, &herr))
}

func TestEnsureAuthenticated_ReuseNeverClicks(t *testing.T) {
	d := new(mocks.MockDriver)
	d.On("Navigate", mock.Anything, clientURL).Return(nil)
	d.On("WaitForElement", mock.Anything, LoginFieldSelector, mock.Anything).Return(browser.ErrWaitTimeout).Maybe()
	d.On("WaitForElement", mock.Anything, LogoutSelector, mock.Anything).Return(nil)
	d.On("CurrentURL", mock.Anything).Return(clientURL, nil).Maybe()
	d.On("Exists", mock.Anything, PasswordFieldSelector).Return(false, nil)
	d.On("Cookie", mock.Anything, "sfrSessionId").Return("tag-1", nil)

	m := newMachine(t, d, testConfig())
	res, err := m.EnsureAuthenticated(context.Background(), &schemas.Credentials{Login: "x", SessionTag: "tag-1"})
	require.NoError(t, err)
	assert.True(t, res.Reused)

	d.AssertExpectations(t)
	d.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
	d.AssertNotCalled(t, "SetVisible", mock.Anything, mock.Anything)
}
