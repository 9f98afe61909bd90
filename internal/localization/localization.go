// Package localization provides functionality for internationalization (i18n).
// It loads translation strings from JSON files and provides a simple way to get
// localized strings for different languages.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"path"
	"strings"
	"sync"
)

//go:embed locales/*.json
var bundled embed.FS

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	fallback     string
	mu           sync.RWMutex
}

// Default returns a Localizer over the bundled zh and en catalogs.
func Default(fallback string) (*Localizer, error) {
	return NewLocalizer(bundled, "locales", fallback)
}

// NewLocalizer creates and returns a new Localizer instance.
// It loads all translations from dir inside fsys. The directory should contain
// JSON files named with the language code (e.g., "en.json").
func NewLocalizer(fsys fs.FS, dir, fallback string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
		fallback:     fallback,
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[lang] = translations
	}

	if _, ok := l.translations[fallback]; !ok {
		return nil, fmt.Errorf("fallback language %q has no catalog", fallback)
	}

	return l, nil
}

// GetString returns the localized string for a given key and language.
// Missing keys fall back to the default language, then to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if langTranslations, ok := l.translations[lang]; ok {
		if value, ok := langTranslations[key]; ok {
			return value
		}
	}

	if lang != l.fallback {
		if value, ok := l.translations[l.fallback][key]; ok {
			return value
		}
	}

	return key
}

// Format is GetString followed by fmt.Sprintf.
func (l *Localizer) Format(lang, key string, args ...any) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}

// Pick returns one of the n variants stored under prefix.1 .. prefix.n.
func (l *Localizer) Pick(lang, prefix string, n int) string {
	if n < 1 {
		n = 1
	}
	return l.GetString(lang, fmt.Sprintf("%s.%d", prefix, rand.IntN(n)+1))
}

// Has reports whether lang has its own catalog.
func (l *Localizer) Has(lang string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.translations[lang]
	return ok
}

// Fallback is the language used when a key or language is missing.
func (l *Localizer) Fallback() string { return l.fallback }
