// Package i18n looks up translated strings configured per locale.
package i18n

import (
	"strings"

	"go.uber.org/fx"
	"golang.org/x/text/language"

	"github.com/fatflowers/finepay/pkg/config"
)

// Translator is a read-only lookup over configured translations.
type Translator struct {
	fallback language.Tag
	texts    map[string]map[string]string
}

func New(cfg *config.Config) *Translator {
	t := &Translator{fallback: language.English, texts: map[string]map[string]string{}}
	if cfg == nil {
		return t
	}
	if tag, err := language.Parse(cfg.Locale.Default); err == nil {
		t.fallback = tag
	}
	for locale, entries := range cfg.Translations {
		t.texts[t.Normalize(locale)] = entries
	}
	return t
}

// Normalize returns the canonical BCP 47 form, "en_gb" becomes "en-GB".
// Unparseable input yields the default locale.
func (t *Translator) Normalize(locale string) string {
	tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
	if err != nil || tag == language.Und {
		return t.fallback.String()
	}
	return tag.String()
}

// Language returns the lower-case base language, "en-GB" becomes "en".
func (t *Translator) Language(locale string) string {
	tag, err := language.Parse(t.Normalize(locale))
	if err != nil {
		return t.fallback.String()
	}
	base, _ := tag.Base()
	return base.String()
}

// Translate looks key up in the locale, then its base language, then the default locale.
// Missing keys are returned unchanged.
func (t *Translator) Translate(locale, key string) string {
	for _, l := range []string{t.Normalize(locale), t.Language(locale), t.fallback.String()} {
		if entries, ok := t.texts[l]; ok {
			if s, ok := entries[strings.ToLower(key)]; ok && s != "" {
				return s
			}
		}
	}
	return key
}

var Module = fx.Options(
	fx.Provide(New),
)
