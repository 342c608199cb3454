package i18n

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_EveryKeyInEveryLanguage(t *testing.T) {
	tbl := Default()
	keys := []string{KeyError, KeyWelcome, KeyStepFinal, KeyApply, KeyRestart, KeyInvalidAge}
	for i := 0; i <= 6; i++ {
		keys = append(keys, StepKey(i))
	}
	for _, k := range keys {
		for _, l := range Supported {
			msg, err := tbl.Lookup(k, l.Code, "x")
			require.NoError(t, err, "key=%s lang=%s", k, l.Code)
			assert.NotEmpty(t, msg)
		}
	}
	assert.ElementsMatch(t, keys, tbl.Keys())
}

func TestLookup_Interpolates(t *testing.T) {
	msg, err := Default().Lookup(StepKey(1), "en", "Alice")
	require.NoError(t, err)
	assert.Contains(t, msg, "Alice")
	assert.NotContains(t, msg, placeholder)
}

func TestLookup_KeepsMarkdownEscapes(t *testing.T) {
	msg, err := Default().Lookup(StepKey(6), "en", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, `Almost finished\!`), msg)
}

var (
	escapedMarkdown = regexp.MustCompile(`\\[_*\[\]()~\x60>#+\-=|{}.!\\]`)
	markdownLink    = regexp.MustCompile(`\[([^\]]*)\]\(https?://[^)\s]+\)`)
	markdownBold    = regexp.MustCompile(`\*([^*]+)\*`)
)

// The approval prompt is parsed as MarkdownV2, which rejects any reserved
// character outside an entity that is not backslash-escaped.
func TestApprovalPrompt_ValidMarkdownV2InEveryLanguage(t *testing.T) {
	const reserved = "_*[]()~`>#+-=|{}.!"
	for _, l := range Supported {
		msg, err := Default().Lookup(StepKey(6), l.Code, "")
		require.NoError(t, err)

		plain := escapedMarkdown.ReplaceAllString(msg, "")
		plain = markdownLink.ReplaceAllString(plain, "$1")
		plain = markdownBold.ReplaceAllString(plain, "$1")
		idx := strings.IndexAny(plain, reserved)
		assert.Equal(t, -1, idx, "lang=%s has an unescaped reserved character in %q", l.Code, plain)
	}
}

func TestLookup_MissingIsDistinctError(t *testing.T) {
	_, err := Default().Lookup("step-99", "en", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTranslation))

	var me *MissingError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "step-99", me.Key)
	assert.Equal(t, "en", me.Language)

	_, err = Default().Lookup(KeyWelcome, "fr", "")
	assert.ErrorIs(t, err, ErrMissingTranslation)
}

func TestRender_FallsBackToDefaultLanguage(t *testing.T) {
	tbl, err := Parse([]byte("greet:\n  en: \"hi {text}\"\n  ms: \"hai {text}\"\nonly-ms:\n  ms: \"x\"\n"), "en")
	require.NoError(t, err)

	msg, err := tbl.Render("greet", "ta", "Bo")
	require.NoError(t, err)
	assert.Equal(t, "hi Bo", msg)

	msg, err = tbl.Render("greet", "ms", "Bo")
	require.NoError(t, err)
	assert.Equal(t, "hai Bo", msg)

	_, err = tbl.Render("only-ms", "ta", "")
	assert.ErrorIs(t, err, ErrMissingTranslation)
}

func TestWithFallback(t *testing.T) {
	tbl, err := Parse([]byte("k:\n  ms: \"m\"\n"), "")
	require.NoError(t, err)
	msg, err := tbl.WithFallback("ms").Render("k", "en", "")
	require.NoError(t, err)
	assert.Equal(t, "m", msg)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("k: [unclosed"), "en")
	assert.Error(t, err)
}

func TestLanguages(t *testing.T) {
	assert.True(t, IsSupported("cn"))
	assert.False(t, IsSupported("fr"))
	for _, l := range Supported {
		assert.NotEmpty(t, l.Label(), l.Code)
	}
	assert.Equal(t, "English", Supported[0].Label())
}
