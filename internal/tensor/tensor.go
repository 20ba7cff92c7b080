// Package tensor implements C5: converting a Batch into padded numeric
// arrays plus a length vector and, for training batches, an aligned
// label array. It is a stateless per-batch transform.
package tensor

import (
	"github.com/tejas242/dataloader/internal/record"
	"github.com/tejas242/dataloader/internal/tokenizer"
)

// PadInfo is attached to every TensorizedBatch under the "pad_info" key.
type PadInfo struct {
	MaxLen    int
	PadTokenID uint32
}

// Tensorize converts a non-empty training batch into a TensorizedBatch.
// It fails fatally (a Contract error) on an empty batch — the batcher
// guarantees batches are never empty on emission, so this indicates an
// implementation bug upstream — or on a batch mixing label variants.
func Tensorize(batch record.Batch[record.Item], tok tokenizer.Tokenizer) (record.TensorizedBatch, error) {
	if batch.Len() == 0 {
		return record.TensorizedBatch{}, record.NewError(record.ErrContract, "tensor.Tensorize", errEmptyBatch)
	}

	tokenIDs, lengths, maxLen := padTokenIDs(batch.Items, tok.PadTokenID())

	labels, err := buildLabels(batch.Items, tok)
	if err != nil {
		return record.TensorizedBatch{}, err
	}

	return record.TensorizedBatch{
		TokenIDs: tokenIDs,
		Lengths:  lengths,
		Info: map[string]any{
			"pad_info": PadInfo{MaxLen: maxLen, PadTokenID: tok.PadTokenID()},
		},
		Labels: labels,
	}, nil
}

// TensorizeInference converts a non-empty inference batch into a
// TensorizedBatch with no labels.
func TensorizeInference(batch record.Batch[record.InferenceItem], tok tokenizer.Tokenizer) (record.TensorizedBatch, error) {
	if batch.Len() == 0 {
		return record.TensorizedBatch{}, record.NewError(record.ErrContract, "tensor.TensorizeInference", errEmptyBatch)
	}
	toks := make([]record.Tokenization, len(batch.Items))
	for i, it := range batch.Items {
		toks[i] = it.Tokenization
	}
	tokenIDs, lengths, maxLen := padTokenizations(toks, tok.PadTokenID())
	return record.TensorizedBatch{
		TokenIDs: tokenIDs,
		Lengths:  lengths,
		Info: map[string]any{
			"pad_info": PadInfo{MaxLen: maxLen, PadTokenID: tok.PadTokenID()},
		},
	}, nil
}

func padTokenIDs(items []record.Item, padID uint32) ([][]uint32, []int, int) {
	toks := make([]record.Tokenization, len(items))
	for i, it := range items {
		toks[i] = it.Tokenization
	}
	return padTokenizations(toks, padID)
}

// padTokenizations allocates a [B x max_len] array of padID and copies
// each tokenization's token IDs into the leading lengths[i] cells.
func padTokenizations(toks []record.Tokenization, padID uint32) ([][]uint32, []int, int) {
	maxLen := 0
	for _, t := range toks {
		if len(t.TokenIDs) > maxLen {
			maxLen = len(t.TokenIDs)
		}
	}

	rows := make([][]uint32, len(toks))
	lengths := make([]int, len(toks))
	for i, t := range toks {
		row := make([]uint32, maxLen)
		for j := range row {
			row[j] = padID
		}
		copy(row, t.TokenIDs)
		rows[i] = row
		lengths[i] = len(t.TokenIDs)
	}
	return rows, lengths, maxLen
}

// buildLabels dispatches on the label variant shared by every item in
// the batch. Seq2Seq labels in a training batch are a contract error;
// mixed variants within one batch are a contract error.
func buildLabels(items []record.Item, tok tokenizer.Tokenizer) (any, error) {
	kind := items[0].Label.Kind
	for _, it := range items[1:] {
		if it.Label.Kind != kind {
			return nil, record.NewError(record.ErrContract, "tensor.buildLabels", errMixedLabelKinds)
		}
	}

	switch kind {
	case record.LabelClassification:
		labels := make([]int32, len(items))
		for i, it := range items {
			labels[i] = it.Label.Scalar
		}
		return labels, nil

	case record.LabelSequenceClassification:
		maxGroups := 0
		for _, it := range items {
			if g := it.Tokenization.MaxGroups(); g > maxGroups {
				maxGroups = g
			}
		}
		labels := make([][]int32, len(items))
		for i, it := range items {
			row := make([]int32, maxGroups)
			for j := range row {
				row[j] = -1
			}
			prefix := tok.NumPrefixTokens()
			for j, lbl := range it.Label.Seq {
				pos := prefix + j
				if pos < maxGroups {
					row[pos] = lbl
				}
			}
			labels[i] = row
		}
		return labels, nil

	case record.LabelSeq2Seq:
		return nil, record.NewError(record.ErrContract, "tensor.buildLabels", errSeq2SeqUnsupported)

	default:
		return nil, record.NewError(record.ErrContract, "tensor.buildLabels", errUnknownLabelKind)
	}
}

var (
	errEmptyBatch         = simpleErr("tensorize called with an empty batch")
	errMixedLabelKinds    = simpleErr("batch mixes label variants within one batch")
	errSeq2SeqUnsupported = simpleErr("seq2seq labels are not supported in training batches")
	errUnknownLabelKind   = simpleErr("unknown label kind")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
