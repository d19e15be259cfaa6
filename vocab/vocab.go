// Package vocab collects token pieces and packs them into a compressed,
// suffix-sharing byte arena shared by the tokenizer engines.
package vocab

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-tokenizers/tokenizers/api"
)

// Collected is the result of scanning an id-ordered stream of (piece, type)
// pairs: the pieces themselves, the single-byte fallback table, the declared
// special set and the unknown token.
type Collected struct {
	// Pieces holds the byte content of every token, ordered by id.
	Pieces [][]byte
	// TotalLen is the sum of all piece lengths, an upper bound on the
	// compressed arena size.
	TotalLen int
	// Bytes maps each raw byte value to a token id. Slots with no byte
	// token and no single-byte piece fall back to Unk.
	Bytes [256]api.ID
	// Special lists the ids typed Control, UserDefined or Unknown.
	Special []api.ID
	// Unk is the unknown token id.
	Unk api.ID
}

// Collect scans pieces in id order. Pieces of the exact form "<0xHH>" (two
// uppercase hex digits) typed TokenByte register the raw byte HH; single-byte
// TokenNormal pieces fill byte slots not claimed by a byte token. types may
// be nil, in which case every piece is TokenNormal.
func Collect(pieces [][]byte, types []api.TokenType, unk api.ID) (*Collected, error) {
	if types != nil && len(types) != len(pieces) {
		return nil, errors.Errorf("token types size %d mismatch with vocab size %d", len(types), len(pieces))
	}

	c := &Collected{
		Pieces: pieces,
		Unk:    unk,
	}
	var filled [256]bool
	for i, piece := range pieces {
		id := api.ID(i)
		typ := api.TokenNormal
		if types != nil {
			typ = types[i]
		}
		c.TotalLen += len(piece)

		switch typ {
		case api.TokenByte:
			b, err := parseByteToken(piece)
			if err != nil {
				return nil, errors.Wrapf(err, "token %d", i)
			}
			c.Bytes[b] = id
			filled[b] = true
		case api.TokenNormal:
			if len(piece) == 1 && !filled[piece[0]] {
				c.Bytes[piece[0]] = id
				filled[piece[0]] = true
			}
		case api.TokenControl, api.TokenUserDefined, api.TokenUnknown:
			c.Special = append(c.Special, id)
		}
	}

	backfilled := 0
	for b := range c.Bytes {
		if !filled[b] {
			c.Bytes[b] = unk
			backfilled++
		}
	}
	if backfilled > 0 {
		klog.V(1).Infof("vocab: %d byte slots fall back to the unknown token", backfilled)
	}
	return c, nil
}

// parseByteToken parses the six-byte "<0xHH>" form, HH uppercase hex.
func parseByteToken(piece []byte) (byte, error) {
	if len(piece) != 6 || piece[0] != '<' || piece[1] != '0' || piece[2] != 'x' || piece[5] != '>' {
		return 0, errors.Errorf("malformed byte token %q", piece)
	}
	hi, ok1 := hexDigit(piece[3])
	lo, ok2 := hexDigit(piece[4])
	if !ok1 || !ok2 {
		return 0, errors.Errorf("malformed byte token %q", piece)
	}
	return hi<<4 | lo, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
