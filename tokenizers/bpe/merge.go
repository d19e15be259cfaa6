package bpe

import (
	"cmp"

	"github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/gomlx/go-tokenizers/tokenizers/api"
)

// symbol is one live segment of the input, linked to its neighbors by index.
// A merged-away symbol keeps n == 0.
type symbol struct {
	off, n     int
	prev, next int32
}

// pair is a merge candidate between two adjacent symbols. size snapshots the
// combined length at push time so the popper can detect that either side has
// since been merged elsewhere.
type pair struct {
	left, right int32
	rank        uint32
	size        int
	seq         uint64
}

// Encode implements api.Engine. The input is interpreted as raw bytes; every
// code point becomes one initial symbol and adjacent symbols merge
// lowest-rank first. Unknown leftovers decompose through the single-byte
// table, so Encode never fails.
func (b *Bpe) Encode(text string) []api.ID {
	symbols := splitSymbols(text)

	queue := binaryheap.NewWith(func(a, b pair) int {
		if a.rank != b.rank {
			return cmp.Compare(a.rank, b.rank)
		}
		return cmp.Compare(a.seq, b.seq) // equal ranks pop in insertion order
	})
	var seq uint64
	tryPair := func(left, right int32) {
		if left < 0 || right < 0 {
			return
		}
		l, r := &symbols[left], &symbols[right]
		merged := text[l.off : r.off+r.n]
		id, ok := b.findPiece([]byte(merged))
		if !ok {
			return
		}
		queue.Push(pair{left: left, right: right, rank: b.tokens[id].rank, size: len(merged), seq: seq})
		seq++
	}
	for i := int32(1); i < int32(len(symbols)); i++ {
		tryPair(i-1, i)
	}

	for {
		p, ok := queue.Pop()
		if !ok {
			break
		}
		l, r := &symbols[p.left], &symbols[p.right]
		if l.n == 0 || r.n == 0 || l.n+r.n != p.size {
			continue // stale: one side was already merged
		}
		l.n += r.n
		r.n = 0
		l.next = r.next
		if r.next >= 0 {
			symbols[r.next].prev = p.left
		}
		tryPair(l.prev, p.left)
		tryPair(p.left, l.next)
	}

	var out []api.ID
	for i := int32(0); i >= 0 && int(i) < len(symbols); i = symbols[i].next {
		sym := symbols[i]
		if sym.n == 0 {
			continue
		}
		piece := text[sym.off : sym.off+sym.n]
		if id, ok := b.findPiece([]byte(piece)); ok {
			out = append(out, id)
			continue
		}
		for j := 0; j < len(piece); j++ {
			out = append(out, b.bytes[piece[j]])
		}
	}
	return out
}

// splitSymbols cuts text into one symbol per UTF-8 code point, using the
// leading-byte width; invalid leading bytes count as one.
func splitSymbols(text string) []symbol {
	var symbols []symbol
	for off := 0; off < len(text); {
		n := utf8Len(text[off])
		if off+n > len(text) {
			n = len(text) - off
		}
		i := int32(len(symbols))
		symbols = append(symbols, symbol{off: off, n: n, prev: i - 1, next: i + 1})
		off += n
	}
	if len(symbols) > 0 {
		symbols[len(symbols)-1].next = -1
	}
	return symbols
}

func utf8Len(b byte) int {
	switch {
	case b&0x80 == 0:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
