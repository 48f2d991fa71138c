// Package stealth hides the markers that give an automated Chrome away. The
// portal's login page degrades when it spots them.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/internal/config"
)

//go:embed evasions.js
var evasionsTemplate string

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Languages []string
	Timezone  string
	Locale    string
}

// DefaultPersona is a French desktop user, which is what the portal expects.
var DefaultPersona = Persona{
	Languages: []string{"fr-FR", "fr"},
	Timezone:  "Europe/Paris",
	Locale:    "fr-FR",
}

// PersonaFor derives a persona from the browser configuration, falling back
// to DefaultPersona field by field.
func PersonaFor(cfg config.BrowserConfig) Persona {
	p := DefaultPersona
	p.UserAgent = cfg.UserAgent
	if cfg.Timezone != "" {
		p.Timezone = cfg.Timezone
	}
	if cfg.Locale != "" {
		p.Locale = cfg.Locale
		p.Languages = []string{cfg.Locale}
		if lang, _, ok := strings.Cut(cfg.Locale, "-"); ok {
			p.Languages = append(p.Languages, lang)
		}
	}
	return p
}

// AcceptLanguage renders the persona languages as an Accept-Language value.
func (p Persona) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, l := range p.Languages {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// Script returns the evasions injected into every new document.
func (p Persona) Script() string {
	langs, _ := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p.Languages)
	return strings.Replace(evasionsTemplate, "__LANGUAGES__", string(langs), 1)
}

// Apply builds the CDP actions that make the tab look user operated.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser stealth persona",
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
		zap.Bool("user_agent_override", p.UserAgent != ""),
	)

	tasks := chromedp.Tasks{}
	if p.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(p.UserAgent).WithAcceptLanguage(p.AcceptLanguage()))
	}
	tasks = append(tasks,
		// AddScriptToEvaluateOnNewDocument returns an identifier as well, so
		// it doesn't satisfy chromedp.Action on its own.
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(p.Script()).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": p.AcceptLanguage(),
		}),
	)
	return tasks
}
