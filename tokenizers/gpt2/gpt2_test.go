package gpt2

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/go-tokenizers/models/gguf"
	"github.com/gomlx/go-tokenizers/tokenizers/api"
)

// helloConfig is a tiny byte-level vocabulary with merges building "hello".
func helloConfig() Config {
	cfg := NewConfig()
	cfg.Pattern = PatternGPT2
	cfg.Tokens = []string{"Ġ", "h", "e", "l", "o", "he", "ll", "llo", "hello"}
	cfg.TokenTypes = []int32{1, 1, 1, 1, 1, 1, 1, 1, 1}
	cfg.Merges = []string{"h e", "l l", "ll o", "he llo"}
	cfg.AddBOS = false
	return cfg
}

func TestMergeLoop(t *testing.T) {
	tok, err := New(helloConfig())
	require.NoError(t, err)

	ids := tok.Tokenize(" hello", false, false)
	require.NotEmpty(t, ids)
	// The leading space arrives as its byte-level form and "hello" merges
	// into a single id.
	assert.Equal(t, []api.ID{0, 8}, ids)
}

func TestMergeLoopPartial(t *testing.T) {
	tok, err := New(helloConfig())
	require.NoError(t, err)

	// "hell" merges "he" and "ll" but no rule joins them.
	assert.Equal(t, []api.ID{5, 6}, tok.Tokenize("hell", false, false))
}

func TestUnknownSymbolFallsBackToBytes(t *testing.T) {
	tok, err := New(helloConfig())
	require.NoError(t, err)

	// "x" is not in the vocabulary and has no byte token either: dropped.
	assert.Empty(t, tok.Tokenize("x", false, false))
	// Known single bytes still resolve.
	assert.Equal(t, []api.ID{1}, tok.Tokenize("h", false, false))
}

func TestAddSpecial(t *testing.T) {
	cfg := helloConfig()
	cfg.Tokens = append(cfg.Tokens, "<s>", "</s>")
	cfg.TokenTypes = append(cfg.TokenTypes, 3, 3)
	cfg.BOS, cfg.EOS = 9, 10
	cfg.AddBOS, cfg.AddEOS = true, true
	tok, err := New(cfg)
	require.NoError(t, err)

	ids := tok.Tokenize("hello", true, false)
	assert.Equal(t, []api.ID{9, 8, 10}, ids)
}

func TestPartitionSpecials(t *testing.T) {
	cfg := helloConfig()
	cfg.Tokens = append(cfg.Tokens, "<|im_end|>")
	cfg.TokenTypes = append(cfg.TokenTypes, 3)
	tok, err := New(cfg)
	require.NoError(t, err)

	// With parse_special the control piece maps straight to its id.
	ids := tok.Tokenize("hello<|im_end|>hello", false, true)
	assert.Equal(t, []api.ID{8, 9, 8}, ids)

	// Without it, control pieces are not recognized in the text.
	ids = tok.Tokenize("hello<|im_end|>", false, false)
	assert.NotContains(t, ids, api.ID(9))
}

func TestDiscoverSpecials(t *testing.T) {
	cfg := helloConfig()
	cfg.Tokens = append(cfg.Tokens, "<|endoftext|>", "<|fim_prefix|>")
	cfg.TokenTypes = append(cfg.TokenTypes, 1, 1)
	tok, err := New(cfg)
	require.NoError(t, err)

	// The literals are found by name, upgraded to Control and recorded.
	assert.Equal(t, api.ID(9), tok.eot)
	assert.Equal(t, api.ID(10), tok.fimPre)
	assert.NotZero(t, tok.idToToken[9].Attr&AttrControl)
	assert.True(t, tok.IsEOG(9))
	assert.False(t, tok.IsEOG(8))

	special := tok.InternalSpecial()
	pieces := make([]string, len(special))
	for i, sp := range special {
		pieces[i] = sp.Piece
	}
	if diff := cmp.Diff([]string{"<|endoftext|>", "<|fim_prefix|>"}, pieces); diff != "" {
		t.Errorf("special pieces mismatch (-want +got):\n%s", diff)
	}
}

func TestStripAttributes(t *testing.T) {
	cfg := helloConfig()
	cfg.Tokens = append(cfg.Tokens, "<mark>")
	cfg.TokenTypes = append(cfg.TokenTypes, 4) // UserDefined
	tok, err := New(cfg)
	require.NoError(t, err)
	tok.idToToken[9].Attr |= AttrLStrip | AttrRStrip

	// The strip attributes consume whitespace around the special piece.
	ids := tok.Tokenize("hello <mark> hello", false, true)
	assert.Equal(t, []api.ID{8, 9, 8}, ids)
}

func TestMissingMetadata(t *testing.T) {
	cfg := NewConfig()
	_, err := New(cfg)
	assert.Error(t, err)

	cfg.Tokens = []string{"a"}
	_, err = New(cfg)
	assert.Error(t, err) // no token types

	cfg.TokenTypes = []int32{1}
	_, err = New(cfg)
	assert.Error(t, err) // no merges for a BPE vocabulary

	cfg.Merges = []string{}
	_, err = New(cfg)
	assert.NoError(t, err)
}

func TestSPMVocab(t *testing.T) {
	cfg := NewConfig()
	cfg.VocabType = VocabSPM
	cfg.Tokens = []string{"<unk>", "▁h", "el", "lo", "▁hel", "▁hello", "h", "e", "l", "o", "▁"}
	cfg.Scores = []float32{0, -1, -2, -3, -1.5, -1.2, -10, -10, -10, -10, -10}
	cfg.TokenTypes = []int32{2, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	cfg.Unknown = 0
	cfg.AddBOS = false
	cfg.AddSpacePrefix = true
	tok, err := New(cfg)
	require.NoError(t, err)

	// The space prefix escapes to "▁" and the merges converge on the
	// highest-scoring cover, "▁hello".
	assert.Equal(t, []api.ID{5}, tok.Tokenize("hello", false, false))

	// A piece no merge chain reaches decomposes into its parts.
	assert.Equal(t, []api.ID{10, 2, 3}, tok.Tokenize("ello", false, false))
}

func TestSPMByteFallback(t *testing.T) {
	cfg := NewConfig()
	cfg.VocabType = VocabSPM
	cfg.Tokens = []string{"<unk>", "a", "<0x78>"}
	cfg.Scores = []float32{0, -1, -2}
	cfg.TokenTypes = []int32{2, 1, 6}
	cfg.Unknown = 0
	cfg.AddBOS = false
	tok, err := New(cfg)
	require.NoError(t, err)

	// "x" is absent as a piece but reachable through its byte token.
	assert.Equal(t, []api.ID{1, 2}, tok.Tokenize("ax", false, false))
}

// ggufBuilder constructs a minimal valid GGUF binary for testing.
type ggufBuilder struct {
	buf     []byte
	kvCount uint64
}

func (b *ggufBuilder) writeString(s string) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *ggufBuilder) kvUint32(key string, v uint32) {
	b.writeString(key)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 4) // uint32
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	b.kvCount++
}

func (b *ggufBuilder) kvBool(key string, v bool) {
	b.writeString(key)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 7) // bool
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
	b.kvCount++
}

func (b *ggufBuilder) kvStrings(key string, values []string) {
	b.writeString(key)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 9) // array
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 8) // of string
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(len(values)))
	for _, v := range values {
		b.writeString(v)
	}
	b.kvCount++
}

func (b *ggufBuilder) kvInt32s(key string, values []int32) {
	b.writeString(key)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 9) // array
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 5) // of int32
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(len(values)))
	for _, v := range values {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(v))
	}
	b.kvCount++
}

func (b *ggufBuilder) kvFloat32s(key string, values []float32) {
	b.writeString(key)
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 9) // array
	b.buf = binary.LittleEndian.AppendUint32(b.buf, 6) // of float32
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(len(values)))
	for _, v := range values {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, math.Float32bits(v))
	}
	b.kvCount++
}

func (b *ggufBuilder) write(t *testing.T) string {
	t.Helper()
	var header []byte
	header = append(header, "GGUF"...)
	header = binary.LittleEndian.AppendUint32(header, 3)        // version
	header = binary.LittleEndian.AppendUint64(header, 0)        // tensor count
	header = binary.LittleEndian.AppendUint64(header, b.kvCount)

	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, append(header, b.buf...), 0o644))
	return path
}

func TestFromGGUF(t *testing.T) {
	b := &ggufBuilder{}
	b.kvStrings("tokenizer.ggml.tokens", []string{"Ġ", "h", "e", "l", "o", "he", "ll", "llo", "hello", "<|endoftext|>"})
	b.kvInt32s("tokenizer.ggml.token_type", []int32{1, 1, 1, 1, 1, 1, 1, 1, 1, 3})
	b.kvStrings("tokenizer.ggml.merges", []string{"h e", "l l", "ll o", "he llo"})
	b.kvFloat32s("tokenizer.ggml.scores", []float32{0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	b.kvUint32("tokenizer.ggml.bos_token_id", 9)
	b.kvUint32("tokenizer.ggml.eos_token_id", 9)
	b.kvBool("tokenizer.ggml.add_bos_token", true)
	path := b.write(t)

	f, err := gguf.Open(path)
	require.NoError(t, err)
	tok, err := FromGGUF(f)
	require.NoError(t, err)

	assert.Equal(t, 10, tok.VocabSize())
	assert.Equal(t, api.ID(9), tok.BOS())
	assert.Equal(t, api.ID(9), tok.eot) // discovered by literal

	// Encode adds the BOS the metadata asked for.
	ids := tok.Encode("hello")
	assert.Equal(t, []api.ID{9, 8}, ids)
}

func TestFromGGUFMissingTokens(t *testing.T) {
	b := &ggufBuilder{}
	b.kvStrings("tokenizer.ggml.merges", []string{"h e"})
	b.kvInt32s("tokenizer.ggml.token_type", []int32{1})
	path := b.write(t)

	f, err := gguf.Open(path)
	require.NoError(t, err)
	_, err = FromGGUF(f)
	assert.Error(t, err)
}
