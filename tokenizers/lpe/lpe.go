// Package lpe implements longest-prefix encoding: a greedy left-to-right
// scan that always consumes the longest vocabulary piece prefixing the
// remaining input, with a single-byte fallback. There is no scoring and no
// backtracking.
package lpe

import (
	"fmt"

	radix "github.com/armon/go-radix"

	"github.com/gomlx/go-tokenizers/tokenizers/api"
	"github.com/gomlx/go-tokenizers/vocab"
)

// Lpe is a longest-prefix encoder backed by a radix tree over the piece
// bytes. It is immutable after construction and safe for concurrent use.
type Lpe struct {
	arena   []byte
	tokens  []vocab.Slice
	trie    *radix.Tree
	bytes   [256]api.ID
	special []api.ID
	unk     api.ID
}

// Compile time assert that Lpe implements the api.Engine interface.
var _ api.Engine = (*Lpe)(nil)

// New builds an encoder over the given pieces. When mapByteLevel is set the
// non-special pieces are translated through the GPT-2 byte-level alphabet
// back to raw bytes before indexing, so a byte-level vocabulary can be
// queried with plain text; special tokens keep their literal form.
func New(pieces [][]byte, types []api.TokenType, unk api.ID, mapByteLevel bool) (*Lpe, error) {
	collected, err := vocab.Collect(pieces, types, unk)
	if err != nil {
		return nil, err
	}

	stored := collected.Pieces
	totalLen := collected.TotalLen
	if mapByteLevel {
		isSpecial := make(map[api.ID]bool, len(collected.Special))
		for _, id := range collected.Special {
			isSpecial[id] = true
		}
		stored = make([][]byte, len(collected.Pieces))
		totalLen = 0
		for i, piece := range collected.Pieces {
			if isSpecial[api.ID(i)] {
				stored[i] = piece
			} else {
				stored[i] = unmapByteLevel(piece)
			}
			totalLen += len(stored[i])
		}
	}

	comp := vocab.Compress(stored, totalLen)
	l := &Lpe{
		arena:   comp.Arena,
		tokens:  comp.Slices,
		trie:    radix.New(),
		bytes:   collected.Bytes,
		special: collected.Special,
		unk:     collected.Unk,
	}

	excluded := make(map[api.ID]bool, 257)
	excluded[collected.Unk] = true
	for _, id := range collected.Bytes {
		excluded[id] = true
	}
	for i := range l.tokens {
		if id := api.ID(i); !excluded[id] {
			l.trie.Insert(string(l.token(id)), id)
		}
	}
	return l, nil
}

func (l *Lpe) token(id api.ID) []byte {
	s := l.tokens[id]
	return l.arena[s.Offset : s.Offset+s.Len]
}

// UnkToken implements api.Engine.
func (l *Lpe) UnkToken() api.ID { return l.unk }

// VocabSize implements api.Engine.
func (l *Lpe) VocabSize() int { return len(l.tokens) }

// InternalSpecial implements api.Engine.
func (l *Lpe) InternalSpecial() []api.SpecialPiece {
	out := make([]api.SpecialPiece, len(l.special))
	for i, id := range l.special {
		out[i] = api.SpecialPiece{Piece: string(l.token(id)), ID: id}
	}
	return out
}

// Encode implements api.Engine: the unique greedy longest-prefix
// tokenization of text, one byte at a time through the fallback table when
// no piece matches.
func (l *Lpe) Encode(text string) []api.ID {
	var out []api.ID
	for i := 0; i < len(text); {
		prefix, v, ok := l.trie.LongestPrefix(text[i:])
		if ok && len(prefix) > 0 {
			out = append(out, v.(api.ID))
			i += len(prefix)
			continue
		}
		out = append(out, l.bytes[text[i]])
		i++
	}
	return out
}

// Decode implements api.Engine.
func (l *Lpe) Decode(id api.ID) []byte { return l.token(id) }

// unmapByteLevel translates a byte-level piece (each rune standing for one
// raw byte) back to raw bytes. Runes outside the alphabet are kept as an
// explicit marker so they stay visible in the trie rather than silently
// colliding.
func unmapByteLevel(piece []byte) []byte {
	out := make([]byte, 0, len(piece))
	for _, r := range string(piece) {
		if b, ok := byteLevelByte(r); ok {
			out = append(out, b)
		} else {
			out = append(out, fmt.Sprintf("[UNK_BYTE_%#02x]", byte(r))...)
		}
	}
	return out
}

// byteLevelByte inverts the GPT-2 byte-to-rune alphabet for one rune.
func byteLevelByte(r rune) (byte, bool) {
	switch {
	case r >= 0x21 && r <= 0x7E, r >= 0xA1 && r <= 0xAC, r >= 0xAE && r <= 0xFF:
		return byte(r), true
	}
	// The remaining 68 byte values map to code points 256, 257, ... in
	// byte-value order.
	if r < 256 || r > 256+67 {
		return 0, false
	}
	n := rune(0)
	for b := 0; b < 256; b++ {
		switch {
		case b >= 0x21 && b <= 0x7E, b >= 0xA1 && b <= 0xAC, b >= 0xAE && b <= 0xFF:
			continue
		}
		if 256+n == r {
			return byte(b), true
		}
		n++
	}
	return 0, false
}
