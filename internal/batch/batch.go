package batch

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/lamim/skipdoc/internal/tokenize"
	"github.com/lamim/skipdoc/pkg/models"
)

// Batch is a group of tokenized examples right-padded to a common length.
// Labels, DecoderIDs and DecoderMask are nil unless the split is teacher forced.
type Batch struct {
	Split         models.SplitName `json:"split"`
	Epoch         int              `json:"epoch"`
	Index         int              `json:"index"`
	RecordIDs     []string         `json:"record_ids"`
	InputIDs      [][]int          `json:"input_ids"`
	AttentionMask [][]int          `json:"attention_mask"`
	MaskPos       []int            `json:"mask_pos"`
	Labels        [][]int          `json:"labels,omitempty"`
	DecoderIDs    [][]int          `json:"decoder_input_ids,omitempty"`
	DecoderMask   [][]int          `json:"decoder_attention_mask,omitempty"`
}

// Size returns the number of examples
func (b *Batch) Size() int {
	return len(b.RecordIDs)
}

// SeqLen returns the padded input length
func (b *Batch) SeqLen() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

// assemble pads examples into a batch. Inputs pad with padID, attention
// with 0 and labels with IgnoreIndex.
func assemble(split models.SplitName, epoch, index int, examples []*tokenize.Example, padID int) *Batch {
	b := &Batch{
		Split:         split,
		Epoch:         epoch,
		Index:         index,
		RecordIDs:     make([]string, len(examples)),
		InputIDs:      make([][]int, len(examples)),
		AttentionMask: make([][]int, len(examples)),
		MaskPos:       make([]int, len(examples)),
	}

	var seqLen, labelLen, decLen int
	var hasLabels, hasDecoder bool
	for _, ex := range examples {
		seqLen = max(seqLen, len(ex.InputIDs))
		labelLen = max(labelLen, len(ex.Labels))
		decLen = max(decLen, len(ex.DecoderIDs))
		hasLabels = hasLabels || ex.Labels != nil
		hasDecoder = hasDecoder || ex.DecoderIDs != nil
	}
	if hasLabels {
		b.Labels = make([][]int, len(examples))
	}
	if hasDecoder {
		b.DecoderIDs = make([][]int, len(examples))
		b.DecoderMask = make([][]int, len(examples))
	}

	for i, ex := range examples {
		b.RecordIDs[i] = ex.RecordID
		b.MaskPos[i] = ex.MaskPos
		b.InputIDs[i] = pad(ex.InputIDs, seqLen, padID)
		b.AttentionMask[i] = pad(ex.AttentionMask, seqLen, 0)
		if hasLabels {
			b.Labels[i] = pad(ex.Labels, labelLen, tokenize.IgnoreIndex)
		}
		if hasDecoder {
			b.DecoderIDs[i] = pad(ex.DecoderIDs, decLen, padID)
			b.DecoderMask[i] = pad(onesLike(ex.DecoderIDs), decLen, 0)
		}
	}
	return b
}

func pad(s []int, n, fill int) []int {
	out := make([]int, n)
	copy(out, s)
	for i := len(s); i < n; i++ {
		out[i] = fill
	}
	return out
}

func onesLike(s []int) []int {
	out := make([]int, len(s))
	for i := range out {
		out[i] = 1
	}
	return out
}

// Tensors converts the batch to int32 tensors keyed by the names trainers
// conventionally use: input_ids, attention_mask, mask_pos and, when present,
// labels, decoder_input_ids and decoder_attention_mask.
func (b *Batch) Tensors() map[string]*tensors.Tensor {
	out := map[string]*tensors.Tensor{
		"input_ids":      matrix(b.InputIDs),
		"attention_mask": matrix(b.AttentionMask),
		"mask_pos":       vector(b.MaskPos),
	}
	if b.Labels != nil {
		out["labels"] = matrix(b.Labels)
	}
	if b.DecoderIDs != nil {
		out["decoder_input_ids"] = matrix(b.DecoderIDs)
		out["decoder_attention_mask"] = matrix(b.DecoderMask)
	}
	return out
}

func matrix(rows [][]int) *tensors.Tensor {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	flat := make([]int32, 0, len(rows)*cols)
	for _, r := range rows {
		for _, v := range r {
			flat = append(flat, int32(v))
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, len(rows), cols)
}

func vector(v []int) *tensors.Tensor {
	flat := make([]int32, len(v))
	for i, x := range v {
		flat[i] = int32(x)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(v))
}

func (b *Batch) String() string {
	return fmt.Sprintf("batch %s/%d epoch %d: %d x %d", b.Split, b.Index, b.Epoch, b.Size(), b.SeqLen())
}
