// Package localization provides user-visible strings for the bot and the
// HTTP warnings. Translations are JSON files named by language code
// (e.g. "en.json") and are embedded into the binary.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

// DefaultLanguage is used when a key is missing in the requested language.
const DefaultLanguage = "zh-TW"

//go:embed locales/*.json
var embedded embed.FS

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// Default loads the embedded translations.
func Default() *Localizer {
	l, err := NewLocalizerFS(embedded, "locales")
	if err != nil {
		panic(fmt.Sprintf("embedded locales: %v", err))
	}
	return l
}

// NewLocalizerFS loads every *.json file in dir of fsys.
func NewLocalizerFS(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
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

	return l, nil
}

// Languages lists the loaded language codes.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	langs := make([]string, 0, len(l.translations))
	for lang := range l.translations {
		langs = append(langs, lang)
	}
	return langs
}

// Match maps a client language tag such as "en-US" or "zh-Hant-TW" onto a
// loaded language, falling back to DefaultLanguage.
func (l *Localizer) Match(tag string) string {
	tag = strings.TrimSpace(tag)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.translations[tag]; ok {
		return tag
	}
	base, _, _ := strings.Cut(strings.ToLower(tag), "-")
	for lang := range l.translations {
		if b, _, _ := strings.Cut(strings.ToLower(lang), "-"); b == base && base != "" {
			return lang
		}
	}
	return DefaultLanguage
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if langTranslations, ok := l.translations[lang]; ok {
		if value, ok := langTranslations[key]; ok {
			return value
		}
	}

	if lang != DefaultLanguage {
		if def, ok := l.translations[DefaultLanguage]; ok {
			if value, ok := def[key]; ok {
				return value
			}
		}
	}

	return key
}
