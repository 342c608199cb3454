// Package i18n holds the localized prompt catalogue of the intake bot.
//
// The catalogue ships embedded as YAML (key -> language -> text). Lookup is
// strict and reports a missing pair as an error; Render is what the
// conversation uses and falls back to the default language before giving up.
package i18n

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

//go:embed translations.yaml
var catalogue []byte

// Message keys used by the conversation.
const (
	KeyError      = "error"
	KeyWelcome    = "welcome"
	KeyStepFinal  = "step-final"
	KeyApply      = "apply"
	KeyRestart    = "restart"
	KeyInvalidAge = "invalid-age"
)

// StepKey returns the prompt key for a numbered step ("step-3").
func StepKey(step int) string { return fmt.Sprintf("step-%d", step) }

// DefaultLanguage is the code every key is guaranteed to exist in.
const DefaultLanguage = "en"

// placeholder is replaced by the interpolation argument.
const placeholder = "{text}"

// ErrMissingTranslation matches every *MissingError.
var ErrMissingTranslation = errors.New("translation missing")

// MissingError describes a (key, language) pair absent from the catalogue.
type MissingError struct {
	Key      string
	Language string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("translation lookup failed for key=%q language=%q", e.Key, e.Language)
}

// Is lets errors.Is(err, ErrMissingTranslation) succeed.
func (e *MissingError) Is(target error) bool { return target == ErrMissingTranslation }

// Table is an immutable prompt catalogue.
type Table struct {
	entries  map[string]map[string]string
	fallback string
}

// Parse decodes a YAML catalogue. fallback is the language Render retries
// with; it defaults to DefaultLanguage when empty.
func Parse(data []byte, fallback string) (*Table, error) {
	entries := map[string]map[string]string{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse translations: %w", err)
	}
	if fallback == "" {
		fallback = DefaultLanguage
	}
	return &Table{entries: entries, fallback: fallback}, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the embedded catalogue. It panics if the embedded YAML is
// malformed, which a test guards against.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Parse(catalogue, DefaultLanguage)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// WithFallback returns a copy of t that falls back to lang instead.
func (t *Table) WithFallback(lang string) *Table {
	if lang == "" {
		return t
	}
	return &Table{entries: t.entries, fallback: lang}
}

// Lookup returns the message for key in language with text interpolated.
// It never returns an empty string with a nil error.
func (t *Table) Lookup(key, lang, text string) (string, error) {
	msg, ok := t.entries[key][lang]
	if !ok || msg == "" {
		return "", &MissingError{Key: key, Language: lang}
	}
	return strings.ReplaceAll(msg, placeholder, text), nil
}

// Render is Lookup with a retry in the fallback language. The miss is logged.
func (t *Table) Render(key, lang, text string) (string, error) {
	msg, err := t.Lookup(key, lang, text)
	if err == nil || lang == t.fallback {
		return msg, err
	}
	log.Warn().Str("key", key).Str("language", lang).Str("fallback", t.fallback).
		Msg("translation missing; using fallback language")
	return t.Lookup(key, t.fallback, text)
}

// Keys lists catalogue keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Language is a locale the bot can converse in.
type Language struct {
	// Code is the short code carried in callbacks and stored on records.
	Code string
	// Tag is the BCP 47 tag used for display names.
	Tag language.Tag
}

// Label is the language's name written in itself, used on the keyboard.
func (l Language) Label() string {
	if name := display.Self.Name(l.Tag); name != "" {
		return name
	}
	return l.Code
}

// Supported lists the conversation languages in keyboard order.
var Supported = []Language{
	{Code: "en", Tag: language.English},
	{Code: "cn", Tag: language.Chinese},
	{Code: "ms", Tag: language.Malay},
	{Code: "ta", Tag: language.Tamil},
}

// IsSupported reports whether code names a conversation language.
func IsSupported(code string) bool {
	for _, l := range Supported {
		if l.Code == code {
			return true
		}
	}
	return false
}
