package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"

	"github.com/tejas242/dataloader/internal/record"
)

// DauletTokenizer wraps github.com/daulet/tokenizers, the binding the
// teacher repo uses in internal/embed/embedder.go to load tokenizer.json
// and run EncodeWithOptions. Here the same binding backs the loader's
// external Tokenizer collaborator instead of an embedding pipeline.
type DauletTokenizer struct {
	tk           *tokenizers.Tokenizer
	padTokenID   uint32
	numPrefix    int
}

// New loads a tokenizer.json from modelDir, exactly the way embed.New
// does (tokenizers.FromFile), and resolves the pad token id and the
// number of leading special tokens from padToken/numPrefixTokens — the
// daulet binding does not expose these generically, so the caller
// supplies them from the tokenizer's own config (mirrors the teacher's
// convention of reading sidecar config.json files, see
// TokenClassificationPipelineConfig in the pack's hugot example).
func New(modelDir string, padToken string, numPrefixTokens int) (*DauletTokenizer, error) {
	path := modelDir + "/tokenizer.json"
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, record.NewError(record.ErrConfig, "tokenizer.New", fmt.Errorf("load tokenizer: %w", err))
	}

	padID, ok := tk.TokenToID(padToken)
	if !ok {
		tk.Close()
		return nil, record.NewError(record.ErrConfig, "tokenizer.New",
			fmt.Errorf("pad token %q not found in vocabulary", padToken))
	}

	return &DauletTokenizer{tk: tk, padTokenID: padID, numPrefix: numPrefixTokens}, nil
}

// Close releases the underlying CGo tokenizer.
func (d *DauletTokenizer) Close() {
	if d.tk != nil {
		d.tk.Close()
	}
}

func (d *DauletTokenizer) PadTokenID() uint32   { return d.padTokenID }
func (d *DauletTokenizer) NumPrefixTokens() int { return d.numPrefix }

// Tokenize encodes text with special tokens added, mirroring
// embedBatch's EncodeWithOptions(text, true, ...) call. language is
// accepted for interface symmetry with multi-lingual tokenizer configs
// but the daulet binding's vocabulary is not language-conditioned.
func (d *DauletTokenizer) Tokenize(text string, language *string) (record.Tokenization, error) {
	enc := d.tk.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
	ids := make([]uint32, len(enc.IDs))
	copy(ids, enc.IDs)
	return record.Tokenization{TokenIDs: ids}, nil
}
