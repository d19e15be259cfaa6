// Package api defines the tokenizer contracts shared by the engine
// implementations. It's just a hack to break the cyclic dependency, and allow
// the users to import `tokenizers` and get the default implementations.
package api

// ID is a token identifier. Vocabularies are dense: ids range over [0, V).
type ID uint32

// None marks the absence of a token, e.g. an unset special token slot.
const None ID = ^ID(0)

// TokenType classifies a vocabulary entry. The integer values follow the
// GGUF `tokenizer.ggml.token_type` encoding.
type TokenType int32

const (
	TokenUndefined   TokenType = 0
	TokenNormal      TokenType = 1
	TokenUnknown     TokenType = 2
	TokenControl     TokenType = 3
	TokenUserDefined TokenType = 4
	TokenUnused      TokenType = 5
	TokenByte        TokenType = 6
)

// TokenTypeFromInt converts a raw metadata value to a TokenType.
// Values outside the encoding map to TokenUndefined.
func TokenTypeFromInt(v int32) TokenType {
	if v >= 1 && v <= 6 {
		return TokenType(v)
	}
	return TokenUndefined
}

// SpecialPiece pairs a special token's piece with its id.
type SpecialPiece struct {
	Piece string
	ID    ID
}

// Engine is the contract every tokenization engine implements.
//
// Encode and Decode are total: engines map unknown bytes to the unknown
// token (or to byte-mapped ids) rather than failing. The byte slice returned
// by Decode is a view into the engine's internal storage and must not be
// mutated.
type Engine interface {
	// UnkToken returns the id of the unknown token.
	UnkToken() ID
	// VocabSize returns the number of entries in the vocabulary.
	VocabSize() int
	// InternalSpecial returns the union of declared special tokens and
	// tokens the engine determined it can never produce by composition.
	InternalSpecial() []SpecialPiece
	// Encode converts text into a sequence of token ids.
	Encode(text string) []ID
	// Decode returns the byte content of a token. The id must be in
	// [0, VocabSize()).
	Decode(id ID) []byte
}

// TextNormalizer is an optional pair of text transforms an engine may apply
// around Encode/Decode. Engines that don't implement it are treated as no-op.
type TextNormalizer interface {
	PreEncode(text string) string
	PreDecode(text string) string
}

// Tokenizer is the high-level interface: it converts text to token ids and
// back, and maps semantic special tokens (like padding) to engine-specific
// ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode([]int) string

	// SpecialTokenID returns ID for given special token if registered, or an error if not.
	SpecialTokenID(token SpecialToken) (int, error)
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSpecialTokensCount
)

//go:generate enumer -type=SpecialToken -trimprefix=Tok -transform=snake -values -text -json -yaml api.go
