package gpt2

import (
	"cmp"

	"github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/gomlx/go-tokenizers/tokenizers/api"
)

// bpeSymbol is one live segment of a pre-token. A merged-away symbol keeps
// n == 0.
type bpeSymbol struct {
	prev, next int32
	text       string
	n          int
}

// bpeBigram is a merge candidate. text snapshots the concatenation at push
// time; the popper compares it against the current symbols to detect
// staleness.
type bpeBigram struct {
	left, right int32
	text        string
	rank        int
	seq         uint64
}

// bpeSession is the per-call working set of the rank-driven merge loop. It
// is not safe for concurrent use; Tokenize allocates one per call.
type bpeSession struct {
	t       *Tokenizer
	symbols []bpeSymbol
	final   []bpeSymbol
	queue   *binaryheap.Heap[bpeBigram]
	seq     uint64
}

func newBpeSession(t *Tokenizer) *bpeSession {
	return &bpeSession{
		t: t,
		queue: binaryheap.NewWith(func(a, b bpeBigram) int {
			if a.rank != b.rank {
				return cmp.Compare(a.rank, b.rank)
			}
			return cmp.Compare(a.seq, b.seq) // equal ranks pop in insertion order
		}),
	}
}

// tokenize splits text into pre-tokens, byte-level encodes each, runs the
// merge loop per pre-token and appends the resulting ids to out.
func (s *bpeSession) tokenize(text string, out *[]api.ID) {
	finalPrev := int32(-1)
	words := splitWords(text, s.t.pattern)
	s.final = s.final[:0]

	for _, word := range words {
		word = ByteLevelEncode(word)
		s.queue.Clear()
		s.symbols = s.symbols[:0]

		if s.t.ignoreMerges && s.t.textToToken(word) != api.None {
			// The whole pre-token is a vocabulary entry; skip merging.
			s.symbols = append(s.symbols, bpeSymbol{prev: -1, next: -1, text: word, n: len(word)})
		} else {
			runes := []rune(word)
			for i, r := range runes {
				sym := bpeSymbol{text: string(r), n: len(string(r)), prev: int32(i) - 1, next: int32(i) + 1}
				if i == len(runes)-1 {
					sym.next = -1
				}
				s.symbols = append(s.symbols, sym)
			}
			for i := int32(1); i < int32(len(s.symbols)); i++ {
				s.addBigram(i-1, i)
			}
		}

		for {
			bigram, ok := s.queue.Pop()
			if !ok {
				break
			}
			left := &s.symbols[bigram.left]
			right := &s.symbols[bigram.right]
			if left.n == 0 || right.n == 0 {
				continue
			}
			merged := left.text + right.text
			if merged != bigram.text {
				continue // stale
			}

			left.n += right.n
			right.n = 0
			left.text = merged
			left.next = right.next
			if right.next >= 0 {
				s.symbols[right.next].prev = bigram.left
			}
			s.addBigram(left.prev, bigram.left)
			s.addBigram(bigram.left, left.next)
		}

		// Chain the surviving symbols onto the cross-word final list.
		for i := range s.symbols {
			if s.symbols[i].n == 0 {
				continue
			}
			sym := s.symbols[i]
			sym.prev = finalPrev
			sym.next = -1
			if finalPrev != -1 {
				s.final[finalPrev].next = int32(len(s.final))
			}
			s.final = append(s.final, sym)
			finalPrev = int32(len(s.final) - 1)
		}
	}

	for i := int32(0); i >= 0 && int(i) < len(s.final); i = s.final[i].next {
		sym := s.final[i]
		if sym.n == 0 {
			continue
		}
		if id := s.t.textToToken(sym.text); id != api.None {
			*out = append(*out, id)
			continue
		}
		// Unknown symbol: one byte-mapped id per raw byte.
		for _, b := range ByteLevelDecode(sym.text) {
			if id := s.t.byteToToken(b); id != api.None {
				*out = append(*out, id)
			}
		}
	}
}

func (s *bpeSession) addBigram(left, right int32) {
	if left == -1 || right == -1 {
		return
	}
	leftText := s.symbols[left].text
	rightText := s.symbols[right].text
	rank, ok := s.t.findMergeRank(leftText, rightText)
	if !ok {
		return
	}
	s.queue.Push(bpeBigram{left: left, right: right, text: leftText + rightText, rank: rank, seq: s.seq})
	s.seq++
}

// spmSymbol references a byte range of the word being tokenized.
type spmSymbol struct {
	prev, next int32
	off, n     int
}

// spmBigram is a merge candidate ordered by the merged token's score. size
// snapshots the combined length for staleness detection.
type spmBigram struct {
	left, right int32
	score       float32
	size        int
}

// spmSession is the score-driven SentencePiece merge loop, the counterpart
// of bpeSession for SPM-family vocabularies.
type spmSession struct {
	t        *Tokenizer
	text     string
	symbols  []spmSymbol
	queue    *binaryheap.Heap[spmBigram]
	revMerge map[string][2]int32
}

func newSpmSession(t *Tokenizer) *spmSession {
	return &spmSession{
		t: t,
		queue: binaryheap.NewWith(func(a, b spmBigram) int {
			// Highest score first; lower left index breaks ties.
			if a.score != b.score {
				if a.score > b.score {
					return -1
				}
				return 1
			}
			return cmp.Compare(a.left, b.left)
		}),
		revMerge: make(map[string][2]int32),
	}
}

func (s *spmSession) tokenize(text string, out *[]api.ID) {
	s.text = text
	s.symbols = s.symbols[:0]
	s.queue.Clear()
	clear(s.revMerge)

	index := int32(0)
	for offs := 0; offs < len(text); {
		n := utf8Len(text[offs])
		if offs+n > len(text) {
			n = len(text) - offs
		}
		sym := spmSymbol{off: offs, n: n, prev: index - 1, next: index + 1}
		if offs+n >= len(text) {
			sym.next = -1
		}
		offs += n
		index++
		s.symbols = append(s.symbols, sym)
	}
	for i := int32(1); i < int32(len(s.symbols)); i++ {
		s.tryAddBigram(i-1, i)
	}

	for {
		bigram, ok := s.queue.Pop()
		if !ok {
			break
		}
		left := &s.symbols[bigram.left]
		right := &s.symbols[bigram.right]
		if left.n == 0 || right.n == 0 || left.n+right.n != bigram.size {
			continue // stale
		}

		left.n += right.n
		right.n = 0
		left.next = right.next
		if right.next >= 0 {
			s.symbols[right.next].prev = bigram.left
		}
		s.tryAddBigram(left.prev, bigram.left)
		s.tryAddBigram(bigram.left, left.next)
	}

	for i := int32(0); i >= 0 && int(i) < len(s.symbols); i = s.symbols[i].next {
		s.resegment(s.symbols[i], out)
	}
}

func (s *spmSession) tryAddBigram(left, right int32) {
	if left == -1 || right == -1 {
		return
	}
	l, r := s.symbols[left], s.symbols[right]
	text := s.text[l.off : r.off+r.n]
	id := s.t.textToToken(text)
	if id == api.None || int(id) >= len(s.t.idToToken) {
		return
	}
	s.queue.Push(spmBigram{left: left, right: right, score: s.t.idToToken[id].Score, size: len(text)})
	s.revMerge[text] = [2]int32{left, right}
}

// resegment emits the token for a final symbol, unwinding merges that don't
// correspond to a vocabulary entry and falling back to byte tokens.
func (s *spmSession) resegment(sym spmSymbol, out *[]api.ID) {
	text := s.text[sym.off : sym.off+sym.n]
	if id := s.t.textToToken(text); id != api.None {
		*out = append(*out, id)
		return
	}
	if lr, ok := s.revMerge[text]; ok {
		s.resegment(s.symbols[lr[0]], out)
		s.resegment(s.symbols[lr[1]], out)
		return
	}
	for i := 0; i < len(text); i++ {
		if id := s.t.byteToToken(text[i]); id != api.None {
			*out = append(*out, id)
		}
	}
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
