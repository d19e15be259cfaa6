// Package gpt2 implements the GPT-2 style tokenizer: text is partitioned
// around special tokens, split into pre-tokens by a Unicode-aware pattern,
// and each pre-token is merged bottom-up through an explicit merge-rank
// table. SPM-family vocabularies run a score-driven merge loop instead.
package gpt2

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-tokenizers/models/gguf"
	"github.com/gomlx/go-tokenizers/tokenizers/api"
)

// VocabType selects the tokenization family of a vocabulary.
type VocabType int32

const (
	VocabNone VocabType = iota // models without a vocabulary
	VocabSPM                   // LLaMA byte-fallback BPE (sentencepiece)
	VocabBPE                   // GPT-2 byte-level BPE
	VocabWPM                   // BERT WordPiece
	VocabUGM                   // T5 Unigram
	VocabRWKV                  // RWKV greedy
)

// Attribute is the bit set describing one vocabulary entry.
type Attribute int32

const (
	AttrUndefined   Attribute = 0
	AttrUnknown     Attribute = 1 << 0
	AttrUnused      Attribute = 1 << 1
	AttrNormal      Attribute = 1 << 2
	AttrControl     Attribute = 1 << 3
	AttrUserDefined Attribute = 1 << 4
	AttrByte        Attribute = 1 << 5
	AttrNormalized  Attribute = 1 << 6
	AttrLStrip      Attribute = 1 << 7
	AttrRStrip      Attribute = 1 << 8
	AttrSingleWord  Attribute = 1 << 9
)

// attributeFromTokenType maps the GGUF token_type encoding to attribute bits.
func attributeFromTokenType(v int32) Attribute {
	switch api.TokenTypeFromInt(v) {
	case api.TokenNormal:
		return AttrNormal
	case api.TokenUnknown:
		return AttrUnknown
	case api.TokenControl:
		return AttrControl
	case api.TokenUserDefined:
		return AttrUserDefined
	case api.TokenUnused:
		return AttrUnused
	case api.TokenByte:
		return AttrByte
	}
	return AttrUndefined
}

// TokenData is the per-id record of the vocabulary.
type TokenData struct {
	Text  string
	Score float32
	Attr  Attribute
}

type mergePair struct {
	left, right string
}

// Config describes a tokenizer to build in memory. NewConfig returns the
// defaults; FromGGUF fills one from model metadata.
type Config struct {
	VocabType VocabType
	Pattern   string

	Tokens     []string
	Scores     []float32 // optional; zero scores when absent
	TokenTypes []int32   // required, same length as Tokens
	Merges     []string  // "left right" pairs, required for VocabBPE

	BOS, EOS, EOT, EOM, Unknown, Sep, Pad, Mask    api.ID
	FimPre, FimSuf, FimMid, FimPad, FimRep, FimSep api.ID

	AddSpacePrefix         bool
	AddBOS, AddEOS         bool
	IgnoreMerges           bool
	CleanSpaces            bool
	RemoveExtraWhitespaces bool
}

// NewConfig returns a Config for a byte-level BPE vocabulary split with
// PatternLlama3: BOS 1, EOS 2, unknown 0, AddBOS set, and every other
// special slot unset (api.None).
func NewConfig() Config {
	return Config{
		VocabType: VocabBPE,
		Pattern:   PatternLlama3,
		BOS:       1,
		EOS:       2,
		EOT:       api.None,
		EOM:       api.None,
		Unknown:   0,
		Sep:       api.None,
		Pad:       api.None,
		Mask:      api.None,
		FimPre:    api.None,
		FimSuf:    api.None,
		FimMid:    api.None,
		FimPad:    api.None,
		FimRep:    api.None,
		FimSep:    api.None,
		AddBOS:    true,
	}
}

// Tokenizer is a GPT-2 style tokenizer. It is immutable after construction
// and safe for concurrent use; each Tokenize call owns its working set.
type Tokenizer struct {
	vocabType VocabType
	pattern   string

	bos, eos, eot, eom, unk, sep, pad, mask        api.ID
	fimPre, fimSuf, fimMid, fimPad, fimRep, fimSep api.ID
	linefeed                                       api.ID

	addSpacePrefix         bool
	addBOS, addEOS         bool
	ignoreMerges           bool
	cleanSpaces            bool
	removeExtraWhitespaces bool

	tokenToID map[string]api.ID
	idToToken []TokenData
	special   []api.ID
	eog       map[api.ID]bool
	ranks     map[mergePair]int
}

// Compile time assert that Tokenizer implements the api interfaces.
var (
	_ api.Engine         = (*Tokenizer)(nil)
	_ api.TextNormalizer = (*Tokenizer)(nil)
)

// Metadata keys the GGUF loader consumes.
const (
	keyTokens     = "tokenizer.ggml.tokens"
	keyScores     = "tokenizer.ggml.scores"
	keyTokenType  = "tokenizer.ggml.token_type"
	keyMerges     = "tokenizer.ggml.merges"
	keyAddBOS     = "tokenizer.ggml.add_bos_token"
	keyAddEOS     = "tokenizer.ggml.add_eos_token"
	keyAddSpace   = "tokenizer.ggml.add_space_prefix"
	keyRemoveWS   = "tokenizer.ggml.remove_extra_whitespaces"
)

var idKeys = []struct {
	key  string
	slot func(*Config) *api.ID
}{
	{"tokenizer.ggml.bos_token_id", func(c *Config) *api.ID { return &c.BOS }},
	{"tokenizer.ggml.eos_token_id", func(c *Config) *api.ID { return &c.EOS }},
	{"tokenizer.ggml.eot_token_id", func(c *Config) *api.ID { return &c.EOT }},
	{"tokenizer.ggml.eom_token_id", func(c *Config) *api.ID { return &c.EOM }},
	{"tokenizer.ggml.unknown_token_id", func(c *Config) *api.ID { return &c.Unknown }},
	{"tokenizer.ggml.seperator_token_id", func(c *Config) *api.ID { return &c.Sep }},
	{"tokenizer.ggml.padding_token_id", func(c *Config) *api.ID { return &c.Pad }},
	{"tokenizer.ggml.mask_token_id", func(c *Config) *api.ID { return &c.Mask }},
	{"tokenizer.ggml.fim_pre_token_id", func(c *Config) *api.ID { return &c.FimPre }},
	{"tokenizer.ggml.fim_suf_token_id", func(c *Config) *api.ID { return &c.FimSuf }},
	{"tokenizer.ggml.fim_mid_token_id", func(c *Config) *api.ID { return &c.FimMid }},
	{"tokenizer.ggml.fim_pad_token_id", func(c *Config) *api.ID { return &c.FimPad }},
	{"tokenizer.ggml.fim_rep_token_id", func(c *Config) *api.ID { return &c.FimRep }},
	{"tokenizer.ggml.fim_sep_token_id", func(c *Config) *api.ID { return &c.FimSep }},
}

// FromGGUF builds a tokenizer from GGUF metadata. tokens, token_type and
// merges are required. Absent optional keys leave BOS and EOS at 11, the
// unknown token unset, and everything else at the NewConfig values.
func FromGGUF(f *gguf.File) (*Tokenizer, error) {
	cfg := NewConfig()
	cfg.BOS, cfg.EOS = 11, 11
	cfg.Unknown = api.None
	cfg.CleanSpaces = true

	for _, ik := range idKeys {
		if v, ok := f.Uint(ik.key); ok {
			*ik.slot(&cfg) = api.ID(v)
		}
	}
	if v, ok := f.Bool(keyAddBOS); ok {
		cfg.AddBOS = v
	}
	if v, ok := f.Bool(keyAddEOS); ok {
		cfg.AddEOS = v
	}
	if v, ok := f.Bool(keyAddSpace); ok {
		cfg.AddSpacePrefix = v
	}
	if v, ok := f.Bool(keyRemoveWS); ok {
		cfg.RemoveExtraWhitespaces = v
	}

	cfg.Tokens, _ = f.Strings(keyTokens)
	cfg.TokenTypes, _ = f.Int32s(keyTokenType)
	cfg.Merges, _ = f.Strings(keyMerges)
	cfg.Scores, _ = f.Float32s(keyScores)
	return New(cfg)
}

// New builds a tokenizer from an in-memory description.
func New(cfg Config) (*Tokenizer, error) {
	if len(cfg.Tokens) == 0 {
		return nil, errors.Errorf("gpt2: metadata is missing %q", keyTokens)
	}
	if cfg.TokenTypes == nil {
		return nil, errors.Errorf("gpt2: metadata is missing %q", keyTokenType)
	}
	if len(cfg.TokenTypes) != len(cfg.Tokens) {
		return nil, errors.Errorf("gpt2: token_type size %d mismatch with vocab size %d", len(cfg.TokenTypes), len(cfg.Tokens))
	}
	if cfg.Scores != nil && len(cfg.Scores) != len(cfg.Tokens) {
		return nil, errors.Errorf("gpt2: scores size %d mismatch with vocab size %d", len(cfg.Scores), len(cfg.Tokens))
	}
	switch cfg.VocabType {
	case VocabBPE:
		if cfg.Merges == nil {
			return nil, errors.Errorf("gpt2: metadata is missing %q", keyMerges)
		}
	case VocabSPM:
	default:
		return nil, errors.Errorf("gpt2: unsupported vocab type %d", cfg.VocabType)
	}

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = PatternLlama3
	}
	t := &Tokenizer{
		vocabType: cfg.VocabType,
		pattern:   pattern,

		bos: cfg.BOS, eos: cfg.EOS, eot: cfg.EOT, eom: cfg.EOM,
		unk: cfg.Unknown, sep: cfg.Sep, pad: cfg.Pad, mask: cfg.Mask,
		fimPre: cfg.FimPre, fimSuf: cfg.FimSuf, fimMid: cfg.FimMid,
		fimPad: cfg.FimPad, fimRep: cfg.FimRep, fimSep: cfg.FimSep,
		linefeed: api.None,

		addSpacePrefix:         cfg.AddSpacePrefix,
		addBOS:                 cfg.AddBOS,
		addEOS:                 cfg.AddEOS,
		ignoreMerges:           cfg.IgnoreMerges,
		cleanSpaces:            cfg.CleanSpaces,
		removeExtraWhitespaces: cfg.RemoveExtraWhitespaces,

		tokenToID: make(map[string]api.ID, len(cfg.Tokens)),
		idToToken: make([]TokenData, len(cfg.Tokens)),
		eog:       make(map[api.ID]bool),
		ranks:     make(map[mergePair]int, len(cfg.Merges)),
	}

	for i, text := range cfg.Tokens {
		var score float32
		if cfg.Scores != nil {
			score = cfg.Scores[i]
		}
		t.idToToken[i] = TokenData{Text: text, Score: score, Attr: attributeFromTokenType(cfg.TokenTypes[i])}
		t.tokenToID[text] = api.ID(i)
	}
	for i, m := range cfg.Merges {
		left, right, ok := strings.Cut(m, " ")
		if !ok {
			return nil, errors.Errorf("gpt2: malformed merge rule %q", m)
		}
		t.ranks[mergePair{left, right}] = i
	}

	switch t.vocabType {
	case VocabBPE:
		if ids := t.Tokenize("\n", false, false); len(ids) > 0 {
			t.linefeed = ids[0]
		} else {
			t.linefeed = t.pad
		}
	case VocabSPM:
		if id, ok := t.tokenToID["\n"]; ok {
			t.linefeed = id
		} else {
			t.linefeed = t.pad
		}
	}

	t.discoverSpecials()

	for i, td := range t.idToToken {
		if td.Attr&(AttrControl|AttrUserDefined|AttrUnknown) != 0 {
			t.special = append(t.special, api.ID(i))
		}
	}
	return t, nil
}

// Recognized special piece literals, scanned in order when the metadata left
// a slot unset. The discovered token is upgraded to Control.
var (
	eotPieces = []string{
		"<|eot_id|>", "<|im_end|>", "<|end|>", "<end_of_turn>", "<|endoftext|>",
		"< EOT >", "_< EOT >", "<｜end▁of▁sentence｜>", // DeepSeek
	}
	eomPieces    = []string{"<|eom_id|>"}
	fimPrePieces = []string{
		"<|fim_prefix|>", // Qwen
		"<fim-prefix>",
		"<｜fim▁begin｜>", // DeepSeek
		"<PRE>", "▁<PRE>", // CodeLlama
	}
	fimSufPieces = []string{
		"<|fim_suffix|>", "<fim-suffix>", "<｜fim▁hole｜>", "<SUF>", "▁<SUF>",
	}
	fimMidPieces = []string{
		"<|fim_middle|>", "<fim-middle>", "<｜fim▁end｜>", "<MID>", "▁<MID>",
	}
	fimPadPieces = []string{"<|fim_pad|>", "<fim-pad>", "<PAD>"}
	fimRepPieces = []string{"<|fim_repo|>", "<|repo_name|>", "<fim-repo>", "<REPO>"}
	fimSepPieces = []string{"<|file_sep|>"}
	eogPieces    = []string{
		"<|eot_id|>", "<|im_end|>", "<|end|>", "<end_of_turn>", "<|endoftext|>",
		"<|eom_id|>", "< EOT >", "_< EOT >",
	}
)

func (t *Tokenizer) discoverSpecials() {
	t.discoverSlot(&t.eot, eotPieces)
	t.discoverSlot(&t.eom, eomPieces)
	t.discoverSlot(&t.fimPre, fimPrePieces)
	t.discoverSlot(&t.fimSuf, fimSufPieces)
	t.discoverSlot(&t.fimMid, fimMidPieces)
	t.discoverSlot(&t.fimPad, fimPadPieces)
	t.discoverSlot(&t.fimRep, fimRepPieces)
	t.discoverSlot(&t.fimSep, fimSepPieces)

	for _, id := range []api.ID{t.fimPad, t.fimRep, t.fimSep} {
		if id != api.None {
			t.eog[id] = true
		}
	}
	for _, piece := range eogPieces {
		if id, ok := t.tokenToID[piece]; ok {
			t.eog[id] = true
			t.upgradeToControl(id)
		}
	}
}

func (t *Tokenizer) discoverSlot(slot *api.ID, pieces []string) {
	if *slot != api.None {
		return
	}
	for _, piece := range pieces {
		if id, ok := t.tokenToID[piece]; ok {
			*slot = id
			t.upgradeToControl(id)
			return
		}
	}
}

func (t *Tokenizer) upgradeToControl(id api.ID) {
	if int(id) >= len(t.idToToken) {
		klog.Warningf("gpt2: special token id %d out of range, cannot mark as control", id)
		return
	}
	if t.idToToken[id].Attr&AttrControl == 0 {
		t.idToToken[id].Attr |= AttrControl
	}
}

// fragment is one span of partitioned input: either a raw text range or a
// pre-resolved special token.
type fragment struct {
	isToken bool
	token   api.ID
	text    string
}

// partition splits text around the special token pieces. A special carrying
// the LStrip/RStrip attribute consumes adjacent whitespace. When
// parseSpecial is false, Control and Unknown specials pass through as plain
// text.
func (t *Tokenizer) partition(text string, parseSpecial bool) []fragment {
	fragments := []fragment{{text: text}}
	for _, specialID := range t.special {
		data := t.idToToken[specialID]
		piece := data.Text
		if piece == "" {
			continue
		}
		if !parseSpecial && data.Attr&(AttrControl|AttrUnknown) != 0 {
			continue
		}
		var next []fragment
		for _, frag := range fragments {
			if frag.isToken {
				next = append(next, frag)
				continue
			}
			rest := frag.text
			for len(rest) > 0 {
				idx := strings.Index(rest, piece)
				if idx < 0 {
					next = append(next, fragment{text: rest})
					break
				}
				left := rest[:idx]
				if data.Attr&AttrLStrip != 0 {
					left = strings.TrimRightFunc(left, unicode.IsSpace)
				}
				if len(left) > 0 {
					next = append(next, fragment{text: left})
				}
				next = append(next, fragment{isToken: true, token: specialID})
				rest = rest[idx+len(piece):]
				if data.Attr&AttrRStrip != 0 {
					rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
				}
			}
		}
		fragments = next
	}
	return fragments
}

// Tokenize converts text to ids. addSpecial appends the configured BOS/EOS;
// parseSpecial resolves Control/Unknown special pieces found in the text
// instead of tokenizing them as plain text.
func (t *Tokenizer) Tokenize(text string, addSpecial, parseSpecial bool) []api.ID {
	var output []api.ID
	var fragments []fragment
	if len(text) > 0 {
		fragments = t.partition(text, parseSpecial)
	}

	switch t.vocabType {
	case VocabSPM:
		session := newSpmSession(t)
		isPrevSpecial := true // prefix with space if first token
		if addSpecial && t.addBOS {
			output = append(output, t.bos)
		}
		for _, frag := range fragments {
			if frag.isToken {
				output = append(output, frag.token)
				isPrevSpecial = true
				continue
			}
			raw := frag.text
			if t.addSpacePrefix && isPrevSpecial {
				raw = " " + raw
			}
			session.tokenize(escapeWhitespace(raw), &output)
			isPrevSpecial = false
		}
		if addSpecial && t.addBOS && len(output) >= 2 && output[1] == t.bos {
			klog.Warningf("gpt2: prompt already starts with a BOS token, adding another as the model requests")
		}
		if addSpecial && t.addEOS {
			output = append(output, t.eos)
		}

	case VocabBPE:
		session := newBpeSession(t)
		if addSpecial && t.addBOS {
			output = append(output, t.bos)
		}
		for _, frag := range fragments {
			if frag.isToken {
				output = append(output, frag.token)
				continue
			}
			session.tokenize(frag.text, &output)
		}
		if addSpecial && t.addEOS {
			output = append(output, t.eos)
		}
	}
	return output
}

func (t *Tokenizer) textToToken(text string) api.ID {
	if id, ok := t.tokenToID[text]; ok {
		return id
	}
	return api.None
}

func (t *Tokenizer) findMergeRank(left, right string) (int, bool) {
	rank, ok := t.ranks[mergePair{left, right}]
	return rank, ok
}

// byteToToken resolves a raw byte to a token id: "<0xHH>" form for
// SPM-family vocabularies, the byte-level alphabet otherwise.
func (t *Tokenizer) byteToToken(b byte) api.ID {
	switch t.vocabType {
	case VocabSPM, VocabUGM:
		if id, ok := t.tokenToID[fmt.Sprintf("<0x%02X>", b)]; ok {
			return id
		}
		return t.textToToken(string([]byte{b}))
	default:
		return t.textToToken(string(byteToRune[b]))
	}
}

// escapeWhitespace replaces every space with U+2581 (lower one eighth
// block), the sentencepiece whitespace escape.
func escapeWhitespace(s string) string {
	return strings.ReplaceAll(s, " ", "▁")
}

// Token returns the vocabulary record of an id.
func (t *Tokenizer) Token(id api.ID) TokenData { return t.idToToken[id] }

// Linefeed returns the id the model uses for "\n".
func (t *Tokenizer) Linefeed() api.ID { return t.linefeed }

// BOS returns the beginning-of-sequence id.
func (t *Tokenizer) BOS() api.ID { return t.bos }

// EOS returns the end-of-sequence id.
func (t *Tokenizer) EOS() api.ID { return t.eos }

// IsEOG reports whether id ends a generation (EOS, EOT, EOM or one of the
// FIM terminators).
func (t *Tokenizer) IsEOG(id api.ID) bool {
	return id != api.None && (id == t.eos || id == t.eot || id == t.eom || t.eog[id])
}

// UnkToken implements api.Engine.
func (t *Tokenizer) UnkToken() api.ID {
	if t.unk == api.None {
		return 0
	}
	return t.unk
}

// VocabSize implements api.Engine.
func (t *Tokenizer) VocabSize() int { return len(t.idToToken) }

// InternalSpecial implements api.Engine.
func (t *Tokenizer) InternalSpecial() []api.SpecialPiece {
	out := make([]api.SpecialPiece, len(t.special))
	for i, id := range t.special {
		out[i] = api.SpecialPiece{Piece: t.idToToken[id].Text, ID: id}
	}
	return out
}

// Encode implements api.Engine.
func (t *Tokenizer) Encode(text string) []api.ID {
	return t.Tokenize(text, true, true)
}

// Decode implements api.Engine. The returned bytes are the stored piece
// text; for byte-level vocabularies use PreDecode to recover raw bytes.
func (t *Tokenizer) Decode(id api.ID) []byte {
	return []byte(t.idToToken[id].Text)
}

// PreEncode implements api.TextNormalizer as a no-op.
func (t *Tokenizer) PreEncode(text string) string { return text }

// PreDecode implements api.TextNormalizer: it undoes the storage encoding of
// piece text, translating the byte-level alphabet (or the U+2581 whitespace
// escape) back to plain text.
func (t *Tokenizer) PreDecode(text string) string {
	switch t.vocabType {
	case VocabSPM, VocabUGM:
		return strings.ReplaceAll(text, "▁", " ")
	default:
		return string(ByteLevelDecode(text))
	}
}
