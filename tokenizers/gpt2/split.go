package gpt2

import (
	"strings"

	"github.com/dlclark/regexp2"
	"k8s.io/klog/v2"
)

// The supported pre-tokenizer patterns, verbatim from the reference models.
const (
	// PatternGPT2 is the original GPT-2 pre-tokenizer pattern.
	PatternGPT2 = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)`
	// PatternLlama3 is the LLaMA-3 / Qwen pre-tokenizer pattern.
	PatternLlama3 = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

	// patternQwenSpelled is PatternLlama3 with the case-insensitive group
	// spelled out, as some converters emit it.
	patternQwenSpelled = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`
)

const outOfRange rune = 0x110000

// splitWords splits text into pre-tokens. The two reference patterns run
// through hand-written splitters that replicate their exact semantics; any
// other pattern goes through the collapsed-regex engine.
func splitWords(text, pattern string) []string {
	switch pattern {
	case PatternGPT2:
		return splitRunes(text, matchGPT2)
	case PatternLlama3, patternQwenSpelled:
		return splitRunes(text, matchLlama3)
	}
	return splitEngine(text, pattern)
}

func splitRunes(text string, match func(cpts []rune) []int) []string {
	cpts := []rune(text)
	lens := match(cpts)
	words := make([]string, 0, len(lens))
	pos := 0
	for _, n := range lens {
		words = append(words, string(cpts[pos:pos+n]))
		pos += n
	}
	return words
}

// matchGPT2 is the hand-written equivalent of PatternGPT2. It returns the
// pre-token lengths in code points.
func matchGPT2(cpts []rune) []int {
	var lens []int
	n := len(cpts)
	get := func(pos int) rune {
		if pos >= 0 && pos < n {
			return cpts[pos]
		}
		return outOfRange
	}
	fl := func(pos int) codepointFlags {
		if pos >= 0 && pos < n {
			return flagsOf(cpts[pos])
		}
		return codepointFlags{}
	}
	prevEnd := 0
	addToken := func(end int) int {
		l := end - prevEnd
		if l > 0 {
			lens = append(lens, l)
		}
		prevEnd = end
		return l
	}

	pos := 0
	for pos < n {
		cpt := get(pos)
		flags := fl(pos)

		// 's|'t|'re|'ve|'m|'ll|'d
		if cpt == '\'' && pos+1 < n {
			next := get(pos + 1)
			if next == 's' || next == 't' || next == 'm' || next == 'd' {
				pos += addToken(pos + 2)
				continue
			}
			if pos+2 < n {
				next2 := get(pos + 2)
				if (next == 'r' && next2 == 'e') || (next == 'v' && next2 == 'e') || (next == 'l' && next2 == 'l') {
					pos += addToken(pos + 3)
					continue
				}
			}
		}

		flags2 := flags
		if cpt == ' ' {
			flags2 = fl(pos + 1)
		}

		// <space>?\p{L}+
		if flags2.isLetter {
			if cpt == ' ' {
				pos++
			}
			for fl(pos).isLetter {
				pos++
			}
			addToken(pos)
			continue
		}

		// <space>?\p{N}+
		if flags2.isNumber {
			if cpt == ' ' {
				pos++
			}
			for fl(pos).isNumber {
				pos++
			}
			addToken(pos)
			continue
		}

		// <space>?[^\s\p{L}\p{N}]+
		if !(flags2.isWhitespace || flags2.isLetter || flags2.isNumber) && flags.asUint() != 0 {
			if cpt == ' ' {
				pos++
			}
			for {
				f := fl(pos)
				if f.isWhitespace || f.isLetter || f.isNumber || f.asUint() == 0 {
					break
				}
				pos++
			}
			addToken(pos)
			continue
		}

		numWhitespaces := 0
		for fl(pos + numWhitespaces).isWhitespace {
			numWhitespaces++
		}

		// \s+(?!\S)
		if numWhitespaces > 1 && get(pos+numWhitespaces) != outOfRange {
			pos += numWhitespaces - 1
			addToken(pos)
			continue
		}

		// \s+
		if numWhitespaces > 0 {
			pos += numWhitespaces
			addToken(pos)
			continue
		}

		// no match
		addToken(pos + 1)
		pos++
	}
	return lens
}

// matchLlama3 is the hand-written equivalent of PatternLlama3.
func matchLlama3(cpts []rune) []int {
	var lens []int
	n := len(cpts)
	get := func(pos int) rune {
		if pos >= 0 && pos < n {
			return cpts[pos]
		}
		return outOfRange
	}
	fl := func(pos int) codepointFlags {
		if pos >= 0 && pos < n {
			return flagsOf(cpts[pos])
		}
		return codepointFlags{}
	}
	prevEnd := 0
	addToken := func(end int) int {
		l := end - prevEnd
		if l > 0 {
			lens = append(lens, l)
		}
		prevEnd = end
		return l
	}

	pos := 0
	for pos < n {
		cpt := get(pos)
		flags := fl(pos)

		// (?i:'s|'t|'re|'ve|'m|'ll|'d)
		if cpt == '\'' && pos+1 < n {
			next := toLower(get(pos + 1))
			if next == 's' || next == 't' || next == 'm' || next == 'd' {
				pos += addToken(pos + 2)
				continue
			}
			if pos+2 < n {
				next2 := toLower(get(pos + 2))
				if (next == 'r' && next2 == 'e') || (next == 'v' && next2 == 'e') || (next == 'l' && next2 == 'l') {
					pos += addToken(pos + 3)
					continue
				}
			}
		}

		// [^\r\n\p{L}\p{N}]?\p{L}+
		if !(cpt == '\r' || cpt == '\n' || flags.isNumber) {
			if flags.isLetter || fl(pos+1).isLetter {
				pos++
				for fl(pos).isLetter {
					pos++
				}
				addToken(pos)
				continue
			}
		}

		// \p{N}{1,3}
		if flags.isNumber {
			ini := pos
			for fl(pos).isNumber {
				if pos-ini >= 3 {
					addToken(pos)
					ini = pos
				}
				pos++
			}
			addToken(pos)
			continue
		}

		// <space>?[^\s\p{L}\p{N}]+[\r\n]*
		flags2 := flags
		if cpt == ' ' {
			flags2 = fl(pos + 1)
		}
		if !(flags2.isWhitespace || flags2.isLetter || flags2.isNumber) && flags.asUint() != 0 {
			if cpt == ' ' {
				pos++
			}
			for {
				f := fl(pos)
				if f.isWhitespace || f.isLetter || f.isNumber || f.asUint() == 0 {
					break
				}
				pos++
			}
			for c := get(pos); c == '\r' || c == '\n'; c = get(pos) {
				pos++
			}
			addToken(pos)
			continue
		}

		numWhitespaces := 0
		lastEndRN := 0
		for fl(pos + numWhitespaces).isWhitespace {
			if c := get(pos + numWhitespaces); c == '\r' || c == '\n' {
				lastEndRN = pos + numWhitespaces + 1
			}
			numWhitespaces++
		}

		// \s*[\r\n]+
		if lastEndRN > 0 {
			pos = lastEndRN
			addToken(pos)
			continue
		}

		// \s+(?!\S)
		if numWhitespaces > 1 && get(pos+numWhitespaces) != outOfRange {
			pos += numWhitespaces - 1
			addToken(pos)
			continue
		}

		// \s+
		if numWhitespaces > 0 {
			pos += numWhitespaces
			addToken(pos)
			continue
		}

		// no match
		addToken(pos + 1)
		pos++
	}
	return lens
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// Category sentinels used by the collapse transform. Runes below 0x80 stay
// as-is; every other rune becomes its category sentinel (or 0xD0 when no
// category applies), so an engine without Unicode class support can still
// run the pattern. The substitution is one rune for one rune, so match
// positions map straight back to the original text.
const (
	collapseOther       = 0xD0
	collapseNumber      = 0xD1
	collapseLetter      = 0xD2
	collapsePunctuation = 0xD3
	collapseAccentMark  = 0xD4
	collapseSymbol      = 0xD5
)

var collapseCategories = map[rune]struct {
	sentinel rune
	ascii    string
}{
	'N': {collapseNumber, `0-9`},
	'L': {collapseLetter, `A-Za-z`},
	'P': {collapsePunctuation, `!-#%-*,-/:-;?-@\[-\]_\{\}`},
	'M': {collapseAccentMark, ``},
	'S': {collapseSymbol, `\$+<=>^` + "`" + `\|`},
}

// collapsePattern rewrites every \p{X} class escape into an explicit class
// of the category sentinel plus the ASCII range for X. Inside an existing
// character class the substitution degrades to inserting sentinel and range
// without adding brackets.
func collapsePattern(pattern string) string {
	rs := []rune(pattern)
	var sb strings.Builder
	inside := false
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		if c == '[' && (i == 0 || rs[i-1] != '\\') {
			sb.WriteRune('[')
			inside = true
			continue
		}
		if inside && c == ']' && rs[i-1] != '\\' {
			sb.WriteRune(']')
			inside = false
			continue
		}
		if i+4 < len(rs) && c == '\\' && rs[i+1] == 'p' && rs[i+2] == '{' && rs[i+4] == '}' {
			if cat, ok := collapseCategories[rs[i+3]]; ok {
				if !inside {
					sb.WriteRune('[')
				}
				sb.WriteRune(cat.sentinel)
				sb.WriteString(cat.ascii)
				if !inside {
					sb.WriteRune(']')
				}
				i += 4
				continue
			}
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// collapseText maps the input runes to the sentinel alphabet the collapsed
// pattern matches against.
func collapseText(runes []rune) []rune {
	out := make([]rune, len(runes))
	for i, r := range runes {
		if r < 0x80 {
			out[i] = r
			continue
		}
		switch flagsOf(r).categoryFlag() {
		case flagLetter:
			out[i] = collapseLetter
		case flagNumber:
			out[i] = collapseNumber
		case flagPunctuation:
			out[i] = collapsePunctuation
		case flagSymbol:
			out[i] = collapseSymbol
		case flagAccentMark:
			out[i] = collapseAccentMark
		default:
			out[i] = collapseOther
		}
	}
	return out
}

// splitEngine matches the collapsed pattern over the collapsed text and maps
// match positions back to the original runes. Text between matches becomes
// its own pre-token.
func splitEngine(text, pattern string) []string {
	re, err := regexp2.Compile(collapsePattern(pattern), regexp2.None)
	if err != nil {
		klog.Warningf("gpt2: cannot compile pre-tokenizer pattern %q: %v", pattern, err)
		return []string{text}
	}
	runes := []rune(text)
	var words []string
	lastEnd := 0
	m, _ := re.FindRunesMatch(collapseText(runes))
	for m != nil {
		if m.Index > lastEnd {
			words = append(words, string(runes[lastEnd:m.Index]))
		}
		if m.Length > 0 {
			words = append(words, string(runes[m.Index:m.Index+m.Length]))
		}
		lastEnd = m.Index + m.Length
		if m.Length == 0 {
			break
		}
		m, _ = re.FindNextMatch(m)
	}
	if lastEnd < len(runes) {
		words = append(words, string(runes[lastEnd:]))
	}
	return words
}
