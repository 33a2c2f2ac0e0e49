package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLanguage_CanonicalNames(t *testing.T) {
	for _, lang := range []string{"javascript", "python", "java", "c", "cpp", "rust", "go"} {
		key, ok := normalizeLanguage(lang)
		require.True(t, ok, lang)
		assert.Equal(t, lang, key)
	}
}

func TestNormalizeLanguage_Aliases(t *testing.T) {
	key, ok := normalizeLanguage("C++")
	require.True(t, ok)
	assert.Equal(t, "cpp", key)

	key, ok = normalizeLanguage("Python3")
	require.True(t, ok)
	assert.Equal(t, "python", key)

	key, ok = normalizeLanguage("JS")
	require.True(t, ok)
	assert.Equal(t, "javascript", key)

	key, ok = normalizeLanguage("golang")
	require.True(t, ok)
	assert.Equal(t, "go", key)
}

func TestNormalizeLanguage_CaseInsensitive(t *testing.T) {
	key, ok := normalizeLanguage("  JavaScript ")
	require.True(t, ok)
	assert.Equal(t, "javascript", key)
}

func TestNormalizeLanguage_Unsupported(t *testing.T) {
	_, ok := normalizeLanguage("brainfuck")
	assert.False(t, ok)

	_, ok = normalizeLanguage("")
	assert.False(t, ok)
}

func TestSupportedLanguage(t *testing.T) {
	assert.True(t, SupportedLanguage("Java"))
	assert.False(t, SupportedLanguage("cobol"))
}

func TestLanguageSpecs_SourceInReadonlyMount(t *testing.T) {
	// Все команды читают исходник из /src; запись возможна только в /tmp
	for lang, spec := range languageSpecs {
		assert.NotEmpty(t, spec.file, lang)
		joined := ""
		for _, part := range spec.cmd {
			joined += part + " "
		}
		assert.Contains(t, joined, "/src/"+spec.file, lang)
	}
}

func TestSanitize_StripsNullBytes(t *testing.T) {
	assert.Equal(t, "ab", sanitize("a\x00b"))
	assert.Equal(t, "plain", sanitize("plain"))
}
