package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/vit/internal/packing"
	"github.com/born-ml/vit/internal/tensor"
)

// SampleSubset draws a random subset of [0, n) of size
// max(round(n*(1-ratio)), 1) as a prefix of a uniform permutation, and
// returns it with the inverse-probability correction factor n/|subset|.
//
// The subset is never empty, so a zero-size operator call cannot happen
// even as ratio approaches 1. At ratio zero the subset covers all of
// [0, n) and the factor is 1.
func SampleSubset(rng *rand.Rand, n int, ratio float32) ([]int, float32) {
	if n < 1 {
		panic(fmt.Sprintf("SampleSubset: n must be >= 1, got %d", n))
	}
	if ratio < 0 || ratio >= 1 {
		panic(fmt.Sprintf("SampleSubset: ratio must be in [0, 1), got %g", ratio))
	}
	size := int(math.Round(float64(n) * float64(1-ratio)))
	if size < 1 {
		size = 1
	}
	return rng.Perm(n)[:size], float32(n) / float32(size)
}

// DropAddResidual applies the residual function f to a random subset of
// batch entries only, then scatters the result back into the full batch:
//
//	out[i] = x[i] + scale * f(x[subset])[j]   for subset entries
//	out[i] = x[i]                             otherwise
//
// where scale = batch/|subset| keeps the expected residual contribution
// unbiased. Entries outside the subset are bit-identical to the input.
// x has shape [batch, tokens, channels]; the output shape equals it.
func DropAddResidual[B tensor.Backend](
	x *tensor.Tensor[B],
	f func(*tensor.Tensor[B]) *tensor.Tensor[B],
	ratio float32,
	rng *rand.Rand,
) *tensor.Tensor[B] {
	indices, scale := SampleSubset(rng, x.Shape()[0], ratio)
	residual := f(x.IndexSelect(indices))
	return x.IndexAdd(indices, residual, scale)
}

// DropAddResidualNested is the packed-batch form of DropAddResidual. For
// each sequence it samples a token subset independently, packs only the
// selected sub-sequences into one dense batch, runs f once under the
// packer's block-diagonal mask, splits the output at the sub-sequence
// boundaries, and scatters each piece back into its sequence's original
// token positions at that sequence's correction factor.
//
// One dense operator call covers the whole variable-length batch; that is
// the point of the packed path.
//
// gamma, when non-nil, is a per-channel rescale folded into the scatter:
// the added residual is scale_i * (gamma * f_i). Unselected token positions
// pass through bit-identical. The returned list matches the input's length
// and per-sequence shapes exactly.
func DropAddResidualNested[B tensor.Backend](
	seqs []*tensor.Tensor[B],
	packer *packing.Packer[B],
	f func(packed *tensor.Tensor[B], mask *packing.BlockDiagonalMask[B]) *tensor.Tensor[B],
	ratio float32,
	rng *rand.Rand,
	gamma *tensor.Tensor[B],
) ([]*tensor.Tensor[B], error) {
	indices := make([][]int, len(seqs))
	scales := make([]float32, len(seqs))
	for i, s := range seqs {
		indices[i], scales[i] = SampleSubset(rng, s.Shape()[0], ratio)
	}

	mask, packed, err := packer.PackSelected(seqs, indices)
	if err != nil {
		return nil, err
	}

	parts := packer.Unpack(f(packed, mask), mask)

	out := make([]*tensor.Tensor[B], len(seqs))
	for i, s := range seqs {
		residual := parts[i]
		if gamma != nil {
			residual = residual.Mul(gamma)
		}
		out[i] = s.IndexAdd(indices[i], residual, scales[i])
	}
	return out, nil
}
