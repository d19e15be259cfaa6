package lpe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-tokenizers/tokenizers/api"
)

func bs(pieces ...string) [][]byte {
	out := make([][]byte, len(pieces))
	for i, p := range pieces {
		out[i] = []byte(p)
	}
	return out
}

func testLpe(t *testing.T) *Lpe {
	t.Helper()
	l, err := New(
		bs("<unk>", "hello", "hell", "he", "h", "e", "l", "o", "x"),
		nil,
		0,
		false,
	)
	require.NoError(t, err)
	return l
}

func TestLongestPrefixWins(t *testing.T) {
	l := testLpe(t)
	hello := l.Encode("hello")
	assert.Equal(t, []api.ID{1}, hello)
}

func TestFallsBackToShorterPrefix(t *testing.T) {
	l := testLpe(t)
	// "hellx" backs off to "hell" and the single byte 'x'.
	assert.Equal(t, []api.ID{2, 8}, l.Encode("hellx"))
}

func TestGreedyIsDeterministic(t *testing.T) {
	l := testLpe(t)
	// Greedy left-to-right: "hehello" = "he" + "hello".
	assert.Equal(t, []api.ID{3, 1}, l.Encode("hehello"))
}

func TestUnknownByteBecomesUnk(t *testing.T) {
	l := testLpe(t)
	assert.Equal(t, []api.ID{3, 0}, l.Encode("he?"))
}

func TestDecode(t *testing.T) {
	l := testLpe(t)
	assert.Equal(t, 9, l.VocabSize())
	assert.Equal(t, []byte("hello"), l.Decode(1))
	assert.Equal(t, []byte("<unk>"), l.Decode(0))
}

func TestRoundTrip(t *testing.T) {
	l := testLpe(t)
	for _, input := range []string{"hello", "hellohell", "heholex", "", "ohell"} {
		var sb strings.Builder
		for _, id := range l.Encode(input) {
			sb.Write(l.Decode(id))
		}
		assert.Equal(t, input, sb.String(), "input %q", input)
	}
}

func TestByteLevelMappedVocab(t *testing.T) {
	// "Ġhello" is the byte-level form of " hello"; with mapping enabled the
	// trie is queried with raw text.
	l, err := New(
		bs("<unk>", "Ġhello", "<|endoftext|>", "h", "e", "l", "o", " "),
		[]api.TokenType{
			api.TokenUnknown, api.TokenNormal, api.TokenControl,
			api.TokenNormal, api.TokenNormal, api.TokenNormal, api.TokenNormal, api.TokenNormal,
		},
		0,
		true,
	)
	require.NoError(t, err)

	assert.Equal(t, []api.ID{1}, l.Encode(" hello"))
	// Special pieces bypass the mapping and keep their literal form.
	assert.Equal(t, []api.ID{2}, l.Encode("<|endoftext|>"))
}

func TestInternalSpecial(t *testing.T) {
	l, err := New(
		bs("<unk>", "<s>", "a"),
		[]api.TokenType{api.TokenUnknown, api.TokenControl, api.TokenNormal},
		0,
		false,
	)
	require.NoError(t, err)
	special := l.InternalSpecial()
	require.Len(t, special, 2)
	assert.Equal(t, api.SpecialPiece{Piece: "<unk>", ID: 0}, special[0])
	assert.Equal(t, api.SpecialPiece{Piece: "<s>", ID: 1}, special[1])
}
