package stealth

import (
	"testing"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/telco-harvester/internal/config"
)

func TestPersonaFor(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		p := PersonaFor(config.BrowserConfig{})
		assert.Equal(t, DefaultPersona, p)
		assert.Equal(t, "fr-FR,fr;q=0.9", p.AcceptLanguage())
	})

	t.Run("Overrides", func(t *testing.T) {
		p := PersonaFor(config.BrowserConfig{
			UserAgent: "Mozilla/5.0 test",
			Locale:    "en-GB",
			Timezone:  "Europe/London",
		})
		assert.Equal(t, "Mozilla/5.0 test", p.UserAgent)
		assert.Equal(t, []string{"en-GB", "en"}, p.Languages)
		assert.Equal(t, "Europe/London", p.Timezone)
		assert.Equal(t, "en-GB,en;q=0.9", p.AcceptLanguage())
	})

	t.Run("Locale Without Region", func(t *testing.T) {
		p := PersonaFor(config.BrowserConfig{Locale: "fr"})
		assert.Equal(t, []string{"fr"}, p.Languages)
		assert.Equal(t, "fr", p.AcceptLanguage())
	})
}

func TestScript(t *testing.T) {
	script := DefaultPersona.Script()
	assert.Contains(t, script, `const languages = ["fr-FR","fr"];`)
	assert.NotContains(t, script, "__LANGUAGES__")
	assert.Contains(t, script, "'webdriver'")
}

func TestApply(t *testing.T) {
	t.Run("Without User Agent", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		tasks := Apply(DefaultPersona, zap.New(core))

		require.Len(t, tasks, 4)
		tz, ok := tasks[1].(*emulation.SetTimezoneOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "Europe/Paris", tz.TimezoneID)
		locale, ok := tasks[2].(*emulation.SetLocaleOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "fr-FR", locale.Locale)
		headers, ok := tasks[3].(*network.SetExtraHTTPHeadersParams)
		require.True(t, ok)
		assert.Equal(t, "fr-FR,fr;q=0.9", headers.Headers["Accept-Language"])

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Applying browser stealth persona", logs.All()[0].Message)
	})

	t.Run("With User Agent", func(t *testing.T) {
		p := DefaultPersona
		p.UserAgent = "Mozilla/5.0 test"
		tasks := Apply(p, zap.NewNop())

		require.Len(t, tasks, 5)
		ua, ok := tasks[0].(*emulation.SetUserAgentOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "Mozilla/5.0 test", ua.UserAgent)
		assert.Equal(t, "fr-FR,fr;q=0.9", ua.AcceptLanguage)
	})
}
