package vocab

import (
	"bytes"
	"sort"

	"k8s.io/klog/v2"
)

// Slice locates one token's piece inside the compressed arena.
type Slice struct {
	Offset uint32
	Len    uint32
}

// Compressed packs every piece into a single byte arena. When one piece is a
// suffix of another the shorter piece reuses the tail of the longer one's
// region, so the arena is at most totalLen bytes and usually smaller. The
// arena is allocated once; engines keep stable views into it for their whole
// lifetime.
type Compressed struct {
	Arena  []byte
	Slices []Slice
}

// Compress builds the arena. totalLen must be the sum of all piece lengths.
//
// Pieces are appended in descending order of their reversed bytes, so a piece
// always lands after any piece it is a suffix of; the walk then only needs to
// check the current arena tail for reuse.
func Compress(pieces [][]byte, totalLen int) *Compressed {
	order := make([]int, len(pieces))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return reversedLess(pieces[order[b]], pieces[order[a]])
	})

	c := &Compressed{
		Arena:  make([]byte, 0, totalLen),
		Slices: make([]Slice, len(pieces)),
	}
	for _, id := range order {
		piece := pieces[id]
		if bytes.HasSuffix(c.Arena, piece) {
			// Identical pieces, and suffixes of an already stored piece,
			// share the tail of the arena.
			c.Slices[id] = Slice{Offset: uint32(len(c.Arena) - len(piece)), Len: uint32(len(piece))}
			continue
		}
		// Overlap the longest prefix of the piece with the arena tail and
		// append only the remainder.
		overlap := 0
		for k := min(len(piece)-1, len(c.Arena)); k > 0; k-- {
			if bytes.HasSuffix(c.Arena, piece[:k]) {
				overlap = k
				break
			}
		}
		c.Slices[id] = Slice{Offset: uint32(len(c.Arena) - overlap), Len: uint32(len(piece))}
		c.Arena = append(c.Arena, piece[overlap:]...)
	}
	klog.V(1).Infof("vocab: %d pieces compressed to %d bytes from %d bytes", len(pieces), len(c.Arena), totalLen)
	return c
}

// Piece returns the stored bytes of the given token id.
func (c *Compressed) Piece(id int) []byte {
	s := c.Slices[id]
	return c.Arena[s.Offset : s.Offset+s.Len]
}

// reversedLess compares two byte slices as if both were reversed.
func reversedLess(a, b []byte) bool {
	i, j := len(a)-1, len(b)-1
	for i >= 0 && j >= 0 {
		if a[i] != b[j] {
			return a[i] < b[j]
		}
		i--
		j--
	}
	return i < j
}
