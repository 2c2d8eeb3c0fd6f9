// Package packing fuses variable-length token sequences into one dense
// batch. A list of [length, channels] sequences is concatenated into a
// single [1, total, channels] tensor, and a block-diagonal attention bias
// keeps tokens from attending across sequence boundaries inside the fused
// call.
package packing

import (
	"fmt"
	"math"

	"github.com/born-ml/vit/internal/tensor"
)

// BlockDiagonalMask restricts attention over a packed batch so that token t
// may only attend to tokens of its own original sequence. The mask is an
// additive bias: 0 inside a sequence's diagonal block, -inf outside.
//
// A mask is immutable after construction, so a single instance can be
// shared freely across calls and goroutines.
type BlockDiagonalMask[B tensor.Backend] struct {
	seqLens []int
	total   int
	bias    *tensor.Tensor[B]
}

// NewBlockDiagonalMask builds the mask for the given ordered sequence
// lengths. The i-th diagonal block has extent seqLens[i].
func NewBlockDiagonalMask[B tensor.Backend](seqLens []int, backend B) *BlockDiagonalMask[B] {
	if len(seqLens) == 0 {
		panic("packing: empty length signature")
	}
	total := 0
	for i, l := range seqLens {
		if l <= 0 {
			panic(fmt.Sprintf("packing: invalid sequence length %d at index %d", l, i))
		}
		total += l
	}

	bias := tensor.Zeros(tensor.Shape{1, 1, total, total}, backend)
	data := bias.Data()
	negInf := float32(math.Inf(-1))
	for i := range data {
		data[i] = negInf
	}
	offset := 0
	for _, l := range seqLens {
		for r := offset; r < offset+l; r++ {
			row := data[r*total : (r+1)*total]
			for c := offset; c < offset+l; c++ {
				row[c] = 0
			}
		}
		offset += l
	}

	lens := make([]int, len(seqLens))
	copy(lens, seqLens)
	return &BlockDiagonalMask[B]{seqLens: lens, total: total, bias: bias}
}

// Bias returns the additive attention bias of shape [1, 1, total, total].
// Callers must not modify it.
func (m *BlockDiagonalMask[B]) Bias() *tensor.Tensor[B] {
	return m.bias
}

// SeqLens returns the ordered per-sequence lengths the mask was built from.
func (m *BlockDiagonalMask[B]) SeqLens() []int {
	return m.seqLens
}

// TotalTokens returns the summed token count across all sequences.
func (m *BlockDiagonalMask[B]) TotalTokens() int {
	return m.total
}

// Split cuts a packed [1, total, channels] tensor back into per-sequence
// [length_i, channels] tensors at the mask's exact boundaries.
func (m *BlockDiagonalMask[B]) Split(packed *tensor.Tensor[B]) []*tensor.Tensor[B] {
	shape := packed.Shape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] != m.total {
		panic(fmt.Sprintf("packing: cannot split %v with signature %v (total %d)", shape, m.seqLens, m.total))
	}

	out := make([]*tensor.Tensor[B], len(m.seqLens))
	offset := 0
	for i, l := range m.seqLens {
		out[i] = packed.Narrow(1, offset, l).Reshape(l, shape[2])
		offset += l
	}
	return out
}
