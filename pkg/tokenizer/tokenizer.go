// Package tokenizer maps text to token id sequences and back using an immutable
// subword vocabulary.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
)

// unknownText is what an <unk> token decodes to.
const unknownText = "?"

// Normalization is fixed at construction and applied before encoding.
type Normalization struct {
	Lowercase     bool `json:"lowercase" yaml:"lowercase"`
	CollapseSpace bool `json:"collapse_space" yaml:"collapse_space"`
}

// Tokenizer is safe for concurrent use; it is never mutated after construction.
type Tokenizer struct {
	pieces      []string
	index       map[string]model.TokenID
	maxPieceLen int
	special     model.SpecialTokens
	norm        Normalization
}

// New builds a tokenizer. Special tokens take ids 0..3 in the order BOS, EOS,
// PAD, UNK, followed by pieces in the given order.
func New(special SpecialNames, pieces []string, norm Normalization) (*Tokenizer, error) {
	names := []string{special.BOS, special.EOS, special.PAD, special.UNK}
	labels := []string{"bos", "eos", "pad", "unk"}

	t := &Tokenizer{
		pieces: make([]string, 0, len(names)+len(pieces)),
		index:  make(map[string]model.TokenID, len(pieces)),
		norm:   norm,
	}

	reserved := make(map[string]bool, len(names))
	for i, name := range names {
		if name == "" {
			return nil, goerr.Wrap(model.ErrTokenizationFailed, "required special token is missing", goerr.V("special", labels[i]))
		}
		if reserved[name] {
			return nil, goerr.Wrap(model.ErrTokenizationFailed, "special tokens must be distinct", goerr.V("token", name))
		}
		reserved[name] = true
		t.pieces = append(t.pieces, name)
	}
	t.special = model.SpecialTokens{BOS: 0, EOS: 1, PAD: 2, UNK: 3}

	for i, piece := range pieces {
		if piece == "" {
			return nil, goerr.Wrap(model.ErrTokenizationFailed, "empty vocabulary piece", goerr.V("index", i))
		}
		if reserved[piece] {
			return nil, goerr.Wrap(model.ErrTokenizationFailed, "piece collides with special token", goerr.V("piece", piece))
		}
		if _, ok := t.index[piece]; ok {
			return nil, goerr.Wrap(model.ErrTokenizationFailed, "duplicated vocabulary piece", goerr.V("piece", piece))
		}
		t.index[piece] = model.TokenID(len(t.pieces))
		t.pieces = append(t.pieces, piece)
		if len(piece) > t.maxPieceLen {
			t.maxPieceLen = len(piece)
		}
	}

	return t, nil
}

// Size returns the number of vocabulary entries including special tokens.
func (t *Tokenizer) Size() int { return len(t.pieces) }

// Special returns the reserved token ids.
func (t *Tokenizer) Special() model.SpecialTokens { return t.special }

// Piece returns the surface string of id.
func (t *Tokenizer) Piece(id model.TokenID) (string, bool) {
	if int(id) >= len(t.pieces) {
		return "", false
	}
	return t.pieces[id], true
}

// Lookup returns the id of an ordinary piece. Special tokens are not found.
func (t *Tokenizer) Lookup(piece string) (model.TokenID, bool) {
	id, ok := t.index[piece]
	return id, ok
}

// Normalize applies the vocabulary's case and whitespace policy.
func (t *Tokenizer) Normalize(text string) string {
	if t.norm.Lowercase {
		text = strings.ToLower(text)
	}
	if t.norm.CollapseSpace {
		text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	}
	return text
}

// Encode normalizes text and converts it with greedy longest-match. Substrings
// without a matching piece become <unk>, one per rune. Special tokens are never
// produced.
func (t *Tokenizer) Encode(text string) []model.TokenID {
	s := t.Normalize(text)
	ids := make([]model.TokenID, 0, len(s)/2+1)

	for i := 0; i < len(s); {
		matched := false
		for l := min(t.maxPieceLen, len(s)-i); l > 0; l-- {
			if id, ok := t.index[s[i:i+l]]; ok {
				ids = append(ids, id)
				i += l
				matched = true
				break
			}
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(s[i:])
			ids = append(ids, t.special.UNK)
			i += size
		}
	}

	return ids
}

// Decode converts ids to text. BOS and PAD are skipped, decoding stops at EOS and
// ids outside the vocabulary are ignored.
func (t *Tokenizer) Decode(ids []model.TokenID) string {
	var b strings.Builder
	for _, id := range ids {
		if int(id) >= len(t.pieces) {
			continue
		}
		if t.writePiece(&b, id) {
			break
		}
	}
	return b.String()
}

// DecodeStrict is Decode but fails on ids outside the vocabulary.
func (t *Tokenizer) DecodeStrict(ids []model.TokenID) (string, error) {
	var b strings.Builder
	for i, id := range ids {
		if int(id) >= len(t.pieces) {
			return "", goerr.Wrap(model.ErrTokenizationFailed, "token id out of range",
				goerr.V("id", id),
				goerr.V("position", i),
				goerr.V("vocab_size", len(t.pieces)))
		}
		if t.writePiece(&b, id) {
			break
		}
	}
	return b.String(), nil
}

// writePiece appends the surface form of id and reports whether EOS was hit.
func (t *Tokenizer) writePiece(b *strings.Builder, id model.TokenID) bool {
	switch id {
	case t.special.BOS, t.special.PAD:
	case t.special.EOS:
		return true
	case t.special.UNK:
		b.WriteString(unknownText)
	default:
		b.WriteString(t.pieces[id])
	}
	return false
}

// Count returns the number of tokens text encodes to.
func (t *Tokenizer) Count(text string) int {
	return len(t.Encode(text))
}

// Wrap returns BOS + ids, the form model inputs take.
func (t *Tokenizer) Wrap(ids []model.TokenID) []model.TokenID {
	out := make([]model.TokenID, 0, len(ids)+1)
	out = append(out, t.special.BOS)
	return append(out, ids...)
}
