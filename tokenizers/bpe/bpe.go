// Package bpe implements the merge-rank byte-pair encoding engine: adjacent
// symbol pairs are merged lowest-rank first until no merge rule applies, and
// leftovers fall back to single-byte tokens.
package bpe

import (
	"bytes"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/gomlx/go-tokenizers/tokenizers/api"
	"github.com/gomlx/go-tokenizers/vocab"
)

type tokenMeta struct {
	slice vocab.Slice
	// rank orders merge rules; lower merges earlier.
	rank uint32
}

// Bpe is a merge-rank byte-pair encoder. It is immutable after construction
// and safe for concurrent use.
type Bpe struct {
	// arena holds all piece bytes; token metadata points into it.
	arena  []byte
	tokens []tokenMeta
	// sortedPieces indexes tokens by the lexicographic order of their byte
	// content, for binary-search piece lookup. Single-byte tokens and the
	// unknown token are reached through bytes instead and are excluded.
	sortedPieces []api.ID
	bytes        [256]api.ID
	special      []api.ID
	unk          api.ID
}

// Compile time assert that Bpe implements the api.Engine interface.
var _ api.Engine = (*Bpe)(nil)

// New builds an encoder from pieces, their scores and types. scores must
// have exactly one entry per piece; types may be nil for an all-Normal
// vocabulary.
func New(pieces []string, scores []float32, types []api.TokenType, unk api.ID) (*Bpe, error) {
	raw := make([][]byte, len(pieces))
	for i, p := range pieces {
		raw[i] = []byte(p)
	}
	collected, err := vocab.Collect(raw, types, unk)
	if err != nil {
		return nil, err
	}
	return newFromCollected(collected, scores)
}

func newFromCollected(c *vocab.Collected, scores []float32) (*Bpe, error) {
	if len(scores) != len(c.Pieces) {
		return nil, errors.Errorf("scores size %d mismatch with vocab size %d", len(scores), len(c.Pieces))
	}
	comp := vocab.Compress(c.Pieces, c.TotalLen)
	ranks := rankScores(scores)

	b := &Bpe{
		arena:   comp.Arena,
		tokens:  make([]tokenMeta, len(c.Pieces)),
		bytes:   c.Bytes,
		special: c.Special,
		unk:     c.Unk,
	}
	for i := range b.tokens {
		b.tokens[i] = tokenMeta{slice: comp.Slices[i], rank: ranks[i]}
	}

	// <unk> and the single-byte tokens must not be found through piece
	// search; they are reached via the bytes table.
	excluded := make(map[api.ID]bool, 257)
	excluded[c.Unk] = true
	for _, id := range c.Bytes {
		excluded[id] = true
	}
	for i := range b.tokens {
		if id := api.ID(i); !excluded[id] {
			b.sortedPieces = append(b.sortedPieces, id)
		}
	}
	sort.Slice(b.sortedPieces, func(i, j int) bool {
		return bytes.Compare(b.token(b.sortedPieces[i]), b.token(b.sortedPieces[j])) < 0
	})

	b.special = append(b.special, b.inaccessible()...)
	return b, nil
}

// inaccessible returns the tokens whose piece the merge rules cannot
// reproduce: encoding the piece itself yields more than one token. They stay
// decodable but are flagged so callers never expect them from Encode.
func (b *Bpe) inaccessible() []api.ID {
	var out []api.ID
	for _, id := range b.sortedPieces {
		if len(b.Encode(string(b.token(id)))) > 1 {
			out = append(out, id)
		}
	}
	return out
}

// findPiece resolves piece bytes to a token id: binary search over the
// sorted pieces, then the single-byte table.
func (b *Bpe) findPiece(piece []byte) (api.ID, bool) {
	i := sort.Search(len(b.sortedPieces), func(i int) bool {
		return bytes.Compare(b.token(b.sortedPieces[i]), piece) >= 0
	})
	if i < len(b.sortedPieces) && bytes.Equal(b.token(b.sortedPieces[i]), piece) {
		return b.sortedPieces[i], true
	}
	if len(piece) == 1 {
		return b.bytes[piece[0]], true
	}
	return 0, false
}

func (b *Bpe) token(id api.ID) []byte {
	s := b.tokens[id].slice
	return b.arena[s.Offset : s.Offset+s.Len]
}

// UnkToken implements api.Engine.
func (b *Bpe) UnkToken() api.ID { return b.unk }

// VocabSize implements api.Engine.
func (b *Bpe) VocabSize() int { return len(b.tokens) }

// InternalSpecial implements api.Engine.
func (b *Bpe) InternalSpecial() []api.SpecialPiece {
	out := make([]api.SpecialPiece, len(b.special))
	for i, id := range b.special {
		out[i] = api.SpecialPiece{Piece: string(b.token(id)), ID: id}
	}
	return out
}

// Decode implements api.Engine.
func (b *Bpe) Decode(id api.ID) []byte { return b.token(id) }

// rankScores converts raw scores to zero-based merge ranks: scores are
// ordered by the IEEE-754 total order, deduplicated, and ranked in
// descending order, so the greatest score gets rank 0 and equal scores get
// equal ranks.
func rankScores(scores []float32) []uint32 {
	unique := make(map[uint32]struct{}, len(scores))
	for _, s := range scores {
		unique[totalOrderKey(s)] = struct{}{}
	}
	keys := make([]uint32, 0, len(unique))
	for k := range unique {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })

	rankOf := make(map[uint32]uint32, len(keys))
	for i, k := range keys {
		rankOf[k] = uint32(i)
	}
	out := make([]uint32, len(scores))
	for i, s := range scores {
		out[i] = rankOf[totalOrderKey(s)]
	}
	return out
}

// totalOrderKey maps a float32 to a uint32 whose unsigned order matches the
// IEEE-754 total order of the float, placing NaNs consistently.
func totalOrderKey(f float32) uint32 {
	bits := math.Float32bits(f)
	if bits&0x8000_0000 != 0 {
		return ^bits
	}
	return bits | 0x8000_0000
}
