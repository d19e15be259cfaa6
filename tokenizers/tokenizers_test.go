package tokenizers

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-tokenizers/tokenizers/api"
	"github.com/gomlx/go-tokenizers/tokenizers/bpe"
)

func testEngine(t *testing.T) *bpe.Bpe {
	t.Helper()
	engine, err := bpe.New(
		[]string{"<unk>", "a", "b", "c", "d", "ab", "ac", "ad", "bd", "bcd"},
		[]float32{0, 1, 1, 1, 1, 1.1, 1.2, 1.3, 1.4, 10},
		nil,
		0,
	)
	require.NoError(t, err)
	return engine
}

func TestEncodeDecode(t *testing.T) {
	tok := New(testEngine(t))
	ids := tok.Encode("abd")
	assert.Equal(t, []int{1, 8}, ids)
	assert.Equal(t, "abd", tok.Decode(ids))
}

func TestInaccessiblePieceMapsToItsID(t *testing.T) {
	tok := New(testEngine(t))
	// "bcd" is inaccessible to the engine, but the façade registers it as a
	// special span and inserts its id directly.
	assert.Equal(t, []int{9}, tok.Encode("bcd"))
	assert.Equal(t, "bcd", tok.Decode([]int{9}))
}

func TestExtendSpecial(t *testing.T) {
	engine := testEngine(t)
	tok := New(engine)
	tok.ExtendSpecial(map[string]api.ID{"<|user|>": 1000})

	ids := tok.Encode("ab<|user|>d")
	assert.Equal(t, []int{5, 1000, 4}, ids)
}

func TestLongestSpecialWins(t *testing.T) {
	tok := New(testEngine(t))
	tok.ExtendSpecial(map[string]api.ID{
		"<m>":  100,
		"<mm>": 101,
	})
	assert.Equal(t, []int{101}, tok.Encode("<mm>"))
}

func TestSpecialTokenID(t *testing.T) {
	tok := New(testEngine(t))
	unk, err := tok.SpecialTokenID(api.TokUnknown)
	require.NoError(t, err)
	assert.Equal(t, 0, unk)

	_, err = tok.SpecialTokenID(api.TokMask)
	assert.Error(t, err)
}

func TestFromTokenizerModelFacade(t *testing.T) {
	model := appendRecord(nil, "<unk>", 0)
	model = appendRecord(model, "h", 1)
	model = appendRecord(model, "i", 1)
	model = appendRecord(model, "hi", 2)

	tok, err := FromTokenizerModel(model)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, tok.Encode("hi"))
	assert.Equal(t, "hi", tok.Decode([]int{3}))
}

// appendRecord mirrors the tokenizer.model record layout used by the bpe
// package tests.
func appendRecord(buf []byte, piece string, score float32) []byte {
	l := len(piece)
	buf = append(buf, 0x0A, byte(l+8), 0x0A, byte(l))
	buf = append(buf, piece...)
	buf = append(buf, 0x00)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(score))
	return append(buf, 0x00)
}
