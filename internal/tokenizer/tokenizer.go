// Package tokenizer defines the external Tokenizer collaborator and a
// concrete adapter over github.com/daulet/tokenizers, the same
// HuggingFace-compatible fast tokenizer binding the teacher repo uses
// for BGE-small embedding.
package tokenizer

import "github.com/tejas242/dataloader/internal/record"

// Tokenizer is the external collaborator the spec consumes through an
// abstract interface: it is not reimplemented here, only adapted.
type Tokenizer interface {
	PadTokenID() uint32
	NumPrefixTokens() int
	Tokenize(text string, language *string) (record.Tokenization, error)
}
