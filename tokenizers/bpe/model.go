package bpe

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/gomlx/go-tokenizers/vocab"
)

// FromTokenizerModel parses a "tokenizer.model" blob and builds an encoder
// from it. The blob is a concatenation of records, each shaped
//
//	0x0A <T> 0x0A <L> <piece: L bytes> .. <score: little-endian float32>
//
// where T is the number of bytes that follow the leading "0x0A <T>" pair, so
// a record spans T+2 bytes. Records are walked until the scanner
// no longer recognizes the header. Every piece is typed Normal and the
// unknown token is id 0.
func FromTokenizerModel(model []byte) (*Bpe, error) {
	var pieces [][]byte
	var scores []float32

	for offset := 0; offset+3 <= len(model) && model[offset] == 0x0A && model[offset+2] == 0x0A; {
		t := int(model[offset+1])
		if t < 2 || offset+1+t > len(model) {
			return nil, errors.Errorf("tokenizer.model: truncated record at offset %d", offset)
		}
		payload := model[offset+3 : offset+1+t]
		l := int(payload[0])
		if l+6 > len(payload) {
			return nil, errors.Errorf("tokenizer.model: piece length %d overflows record at offset %d", l, offset)
		}
		pieces = append(pieces, payload[1:1+l])
		scores = append(scores, math.Float32frombits(binary.LittleEndian.Uint32(payload[l+2:l+6])))
		offset += t + 2
	}
	if len(pieces) == 0 {
		return nil, errors.Errorf("tokenizer.model: no records found")
	}

	collected, err := vocab.Collect(pieces, nil, 0)
	if err != nil {
		return nil, err
	}
	return newFromCollected(collected, scores)
}
