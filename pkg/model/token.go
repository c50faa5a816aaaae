package model

// TokenID identifies a vocabulary entry. Valid ids are in [0, vocabulary size).
type TokenID uint32

// SpecialTokens holds the reserved ids fixed at vocabulary construction.
type SpecialTokens struct {
	BOS TokenID `json:"bos"`
	EOS TokenID `json:"eos"`
	PAD TokenID `json:"pad"`
	UNK TokenID `json:"unk"`
}

// IsSpecial reports whether id is one of the reserved tokens.
func (s SpecialTokens) IsSpecial(id TokenID) bool {
	return id == s.BOS || id == s.EOS || id == s.PAD || id == s.UNK
}
