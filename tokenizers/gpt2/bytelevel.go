package gpt2

import "strings"

// The byte-level alphabet: a bijection between the 256 raw byte values and
// printable code points, so arbitrary byte streams can be presented to a
// text-keyed vocabulary. Printable latin bytes map to themselves; the
// remaining 68 values take code points 256, 257, ... in byte-value order.
var (
	byteToRune [256]rune
	runeToByte map[rune]byte
)

func init() {
	runeToByte = make(map[rune]byte, 256)
	next := rune(256)
	for b := range 256 {
		var r rune
		switch {
		case b >= 0x21 && b <= 0x7E, b >= 0xA1 && b <= 0xAC, b >= 0xAE && b <= 0xFF:
			r = rune(b)
		default:
			r = next
			next++
		}
		byteToRune[b] = r
		runeToByte[r] = byte(b)
	}
}

// ByteLevelEncode presents every byte of s as its printable alphabet rune.
func ByteLevelEncode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		sb.WriteRune(byteToRune[s[i]])
	}
	return sb.String()
}

// ByteLevelDecode recovers the raw bytes behind byte-level text. Runes
// outside the alphabet are dropped.
func ByteLevelDecode(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := runeToByte[r]; ok {
			out = append(out, b)
		}
	}
	return out
}
