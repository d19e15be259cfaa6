// Package tokenizers bundles the tokenization engines behind the Tokeneer
// façade: one engine plus a template layer that carves special-token spans
// (chat markers, control tokens) out of the input before the engine sees it.
package tokenizers

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/gomlx/go-tokenizers/models/gguf"
	"github.com/gomlx/go-tokenizers/tokenizers/api"
	"github.com/gomlx/go-tokenizers/tokenizers/bpe"
	"github.com/gomlx/go-tokenizers/tokenizers/gpt2"
)

// Tokeneer wraps one Engine. Input is split on the registered special
// pieces; the engine only ever tokenizes the raw segments in between, so it
// can never synthesize a special token by composition.
type Tokeneer struct {
	engine   api.Engine
	specials map[string]api.ID
	// ordered holds the special pieces longest first, so the scan is greedy.
	ordered      []string
	normalizeNFC bool
}

// Compile time assert that Tokeneer implements the api.Tokenizer interface.
var _ api.Tokenizer = (*Tokeneer)(nil)

// Option configures a Tokeneer.
type Option func(*Tokeneer)

// WithNFC normalizes input to NFC before encoding.
func WithNFC() Option {
	return func(t *Tokeneer) { t.normalizeNFC = true }
}

// New wraps an engine. The engine's internal specials (declared specials and
// computed inaccessibles) are registered as spans; ExtendSpecial adds more.
func New(engine api.Engine, opts ...Option) *Tokeneer {
	t := &Tokeneer{
		engine:   engine,
		specials: make(map[string]api.ID),
	}
	for _, sp := range engine.InternalSpecial() {
		t.specials[sp.Piece] = sp.ID
	}
	for _, opt := range opts {
		opt(t)
	}
	t.rebuild()
	return t
}

// FromGGUF builds a Tokeneer over the GPT-2 engine described by a GGUF
// model file.
func FromGGUF(path string, opts ...Option) (*Tokeneer, error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, err
	}
	engine, err := gpt2.FromGGUF(f)
	if err != nil {
		return nil, errors.Wrapf(err, "building tokenizer from %q", path)
	}
	return New(engine, opts...), nil
}

// FromTokenizerModel builds a Tokeneer over the BPE engine parsed from a
// "tokenizer.model" blob.
func FromTokenizerModel(model []byte, opts ...Option) (*Tokeneer, error) {
	engine, err := bpe.FromTokenizerModel(model)
	if err != nil {
		return nil, err
	}
	return New(engine, opts...), nil
}

// Engine returns the wrapped engine.
func (t *Tokeneer) Engine() api.Engine { return t.engine }

// ExtendSpecial registers user-defined special pieces (arbitrary strings
// such as chat-template markers) that must bypass the engine.
func (t *Tokeneer) ExtendSpecial(pieces map[string]api.ID) {
	for piece, id := range pieces {
		if piece != "" {
			t.specials[piece] = id
		}
	}
	t.rebuild()
}

func (t *Tokeneer) rebuild() {
	t.ordered = t.ordered[:0]
	for piece := range t.specials {
		t.ordered = append(t.ordered, piece)
	}
	// Longest first so the greedy scan prefers the most specific marker;
	// ties break lexicographically for determinism.
	sort.Slice(t.ordered, func(i, j int) bool {
		if len(t.ordered[i]) != len(t.ordered[j]) {
			return len(t.ordered[i]) > len(t.ordered[j])
		}
		return t.ordered[i] < t.ordered[j]
	})
}

type span struct {
	text    string
	special bool
}

// split cuts s into raw segments and special-piece occurrences.
func (t *Tokeneer) split(s string) []span {
	if len(t.ordered) == 0 {
		return []span{{text: s}}
	}
	var result []span
	remaining := s
	for len(remaining) > 0 {
		matched := false
		for _, piece := range t.ordered {
			if strings.HasPrefix(remaining, piece) {
				result = append(result, span{text: piece, special: true})
				remaining = remaining[len(piece):]
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		next := len(remaining)
		for _, piece := range t.ordered {
			if idx := strings.Index(remaining, piece); idx >= 0 && idx < next {
				next = idx
			}
		}
		result = append(result, span{text: remaining[:next]})
		remaining = remaining[next:]
	}
	return result
}

// Encode implements api.Tokenizer: special spans map straight to their ids,
// everything else goes through the engine.
func (t *Tokeneer) Encode(text string) []int {
	if t.normalizeNFC {
		text = norm.NFC.String(text)
	}
	var out []int
	for _, seg := range t.split(text) {
		if seg.special {
			out = append(out, int(t.specials[seg.text]))
			continue
		}
		for _, id := range t.engine.Encode(seg.text) {
			out = append(out, int(id))
		}
	}
	return out
}

// EncodeIDs is Encode returning engine-typed ids.
func (t *Tokeneer) EncodeIDs(text string) []api.ID {
	ids := t.Encode(text)
	out := make([]api.ID, len(ids))
	for i, id := range ids {
		out[i] = api.ID(id)
	}
	return out
}

// Decode implements api.Tokenizer: piece bytes are concatenated in order and
// passed through the engine's PreDecode when it has one, recovering plain
// text from byte-level or whitespace-escaped storage.
func (t *Tokeneer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.Write(t.engine.Decode(api.ID(id)))
	}
	text := sb.String()
	if n, ok := t.engine.(api.TextNormalizer); ok {
		text = n.PreDecode(text)
	}
	return text
}

// sequenceTokens is implemented by engines that know their BOS/EOS ids.
type sequenceTokens interface {
	BOS() api.ID
	EOS() api.ID
}

// SpecialTokenID implements api.Tokenizer.
func (t *Tokeneer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		return int(t.engine.UnkToken()), nil
	case api.TokBeginningOfSentence:
		if st, ok := t.engine.(sequenceTokens); ok && st.BOS() != api.None {
			return int(st.BOS()), nil
		}
	case api.TokEndOfSentence:
		if st, ok := t.engine.(sequenceTokens); ok && st.EOS() != api.None {
			return int(st.EOS()), nil
		}
	}
	return 0, errors.Errorf("special token (%d) not registered for this engine", int(token))
}
