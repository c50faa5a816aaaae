package tokenizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"gopkg.in/yaml.v3"
)

// SpecialNames are the surface strings of the reserved tokens.
type SpecialNames struct {
	BOS string `json:"bos" yaml:"bos"`
	EOS string `json:"eos" yaml:"eos"`
	PAD string `json:"pad" yaml:"pad"`
	UNK string `json:"unk" yaml:"unk"`
}

// DefaultSpecialNames returns the reserved strings used by Default.
func DefaultSpecialNames() SpecialNames {
	return SpecialNames{BOS: "<bos>", EOS: "<eos>", PAD: "<pad>", UNK: "<unk>"}
}

// VocabFile is the on-disk vocabulary layout, either YAML or JSON.
type VocabFile struct {
	Normalize Normalization `json:"normalize" yaml:"normalize"`
	Special   SpecialNames  `json:"special" yaml:"special"`
	Pieces    []string      `json:"pieces" yaml:"pieces"`
}

// Load reads a vocabulary file. Files ending in .yaml or .yml are parsed as YAML,
// anything else as JSON. Every failure wraps model.ErrTokenizationFailed.
func Load(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(model.ErrTokenizationFailed, "failed to read vocabulary file",
			goerr.V("path", path),
			goerr.V("cause", err.Error()))
	}

	var vf VocabFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &vf)
	default:
		err = json.Unmarshal(data, &vf)
	}
	if err != nil {
		return nil, goerr.Wrap(model.ErrTokenizationFailed, "malformed vocabulary file",
			goerr.V("path", path),
			goerr.V("cause", err.Error()))
	}

	if len(vf.Pieces) == 0 {
		return nil, goerr.Wrap(model.ErrTokenizationFailed, "vocabulary has no pieces", goerr.V("path", path))
	}

	tok, err := New(vf.Special, vf.Pieces, vf.Normalize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build tokenizer", goerr.V("path", path))
	}
	return tok, nil
}

// Export returns the vocabulary in file form, e.g. for writing it next to a
// weights file.
func (t *Tokenizer) Export() VocabFile {
	return VocabFile{
		Normalize: t.norm,
		Special: SpecialNames{
			BOS: t.pieces[t.special.BOS],
			EOS: t.pieces[t.special.EOS],
			PAD: t.pieces[t.special.PAD],
			UNK: t.pieces[t.special.UNK],
		},
		Pieces: append([]string(nil), t.pieces[4:]...),
	}
}

// commonPieces are frequent English subwords so that ordinary prose encodes to
// fewer tokens than characters.
var commonPieces = []string{
	"the ", " the", "and ", " and", "ing ", "ing", "tion", "ion", "ed ", "er ",
	"es ", "is ", " is", " a ", "of ", " of", "to ", " to", "in ", " in",
	"that", "what", "why", "how", "you", "your", "this", "with", "for ", "are ",
	"was ", "it ", "on ", "as ", "an ", "be ", "or ", "th", "he", "re",
	"ou", "st", "nd", "en", "at", "on", "er", "an", "es", "al",
	"ly ", "ment", "able", "tower", "bell", "learn", "question", "answer", "think", "because",
}

// Default returns the built-in vocabulary: reserved tokens, every printable
// ASCII character plus tab and newline, and commonPieces. Text is lowercased and
// whitespace runs collapse to one space.
func Default() *Tokenizer {
	pieces := make([]string, 0, 98+len(commonPieces))
	pieces = append(pieces, "\t", "\n")
	for c := byte(0x20); c < 0x7f; c++ {
		pieces = append(pieces, string(c))
	}
	pieces = append(pieces, commonPieces...)

	tok, err := New(DefaultSpecialNames(), pieces, Normalization{Lowercase: true, CollapseSpace: true})
	if err != nil {
		panic("default vocabulary is invalid: " + err.Error())
	}
	return tok
}
