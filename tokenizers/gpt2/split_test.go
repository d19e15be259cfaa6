package gpt2

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestSplitGPT2(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{" Hello, world!\n", []string{" Hello", ",", " world", "!", "\n"}},
		{"I've done it", []string{"I", "'ve", " done", " it"}},
		{"abc123", []string{"abc", "123"}},
		{"a  b", []string{"a", " ", " b"}},
		{"tab\t\tend", []string{"tab", "\t", "\t", "end"}},
		{"", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got := splitWords(tc.input, PatternGPT2)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("splitWords mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitLlama3(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{" Hello, world!\n", []string{" Hello", ",", " world", "!\n"}},
		// Digits split in runs of at most three.
		{"12345", []string{"123", "45"}},
		// Contractions are case-insensitive.
		{"I'VE done", []string{"I", "'VE", " done"}},
		{"x\n\ny", []string{"x", "\n\n", "y"}},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got := splitWords(tc.input, PatternLlama3)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("splitWords mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestSplitEngineMatchesCustom pins the collapsed-regex engine to the
// hand-written splitter on the same inputs.
func TestSplitEngineMatchesCustom(t *testing.T) {
	inputs := []string{
		" Hello, world!\n",
		"I've done it",
		"abc123",
		"  leading and trailing  ",
		"mixed: 42 things!",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			custom := splitWords(input, PatternGPT2)
			engine := splitEngine(input, PatternGPT2)
			if diff := cmp.Diff(custom, engine); diff != "" {
				t.Errorf("engine and custom splits differ (-custom +engine):\n%s", diff)
			}
		})
	}
}

// TestSplitEngineNonASCII checks that the collapse transform routes
// non-ASCII letters into the letter class.
func TestSplitEngineNonASCII(t *testing.T) {
	got := splitEngine("héllo wörld", PatternGPT2)
	assert.Equal(t, []string{"héllo", " wörld"}, got)
}

func TestCollapsePattern(t *testing.T) {
	collapsed := collapsePattern(PatternGPT2)
	// Class escapes are gone, replaced by sentinel classes.
	assert.NotContains(t, collapsed, `\p{L}`)
	assert.NotContains(t, collapsed, `\p{N}`)
	assert.Contains(t, collapsed, string(rune(collapseLetter))+"A-Za-z")
	assert.Contains(t, collapsed, string(rune(collapseNumber))+"0-9")
	// Inside an existing class no brackets are added: [^\s\p{L}\p{N}]
	// becomes a single class.
	assert.Contains(t, collapsed, `[^\s`+string(rune(collapseLetter))+`A-Za-z`+string(rune(collapseNumber))+`0-9]`)
}

func TestCollapseTextPreservesOffsets(t *testing.T) {
	runes := []rune("aé1٣!")
	out := collapseText(runes)
	assert.Equal(t, len(runes), len(out))
	assert.Equal(t, 'a', out[0])
	assert.Equal(t, rune(collapseLetter), out[1])
	assert.Equal(t, '1', out[2])
	assert.Equal(t, rune(collapseNumber), out[3]) // ARABIC-INDIC DIGIT THREE
	assert.Equal(t, '!', out[4])
}

func TestSplitCoversAllInput(t *testing.T) {
	for _, pattern := range []string{PatternGPT2, PatternLlama3} {
		for _, input := range []string{" Hello, world!\n", "a\r\nb", "  ", "ê🙂 12345 done"} {
			words := splitWords(input, pattern)
			assert.Equal(t, input, strings.Join(words, ""), "pattern %q input %q", pattern, input)
		}
	}
}
