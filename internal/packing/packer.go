package packing

import (
	"fmt"

	"github.com/born-ml/vit/internal/tensor"
)

// Concatenator is the select-and-concatenate capability behind the packer.
// Given sequences of shape [length_i, channels] and an optional per-sequence
// row selection, it produces the packed [1, total, channels] tensor.
//
// A nil selection, or a nil entry for one sequence, means "all rows". Both
// implementations produce bit-identical results; they differ only in how
// many intermediate buffers they allocate.
type Concatenator[B tensor.Backend] interface {
	SelectCat(seqs []*tensor.Tensor[B], indices [][]int) *tensor.Tensor[B]
}

// FusedConcatenator gathers the selected rows of every sequence directly
// into one preallocated output buffer.
type FusedConcatenator[B tensor.Backend] struct{}

// SelectCat implements Concatenator.
func (FusedConcatenator[B]) SelectCat(seqs []*tensor.Tensor[B], indices [][]int) *tensor.Tensor[B] {
	channels := seqs[0].Shape()[1]
	total := 0
	for i, s := range seqs {
		if indices == nil || indices[i] == nil {
			total += s.Shape()[0]
		} else {
			total += len(indices[i])
		}
	}

	out := tensor.Zeros(tensor.Shape{1, total, channels}, seqs[0].Backend())
	dst := out.Data()
	row := 0
	for i, s := range seqs {
		src := s.Data()
		if indices == nil || indices[i] == nil {
			copy(dst[row*channels:], src)
			row += s.Shape()[0]
			continue
		}
		for _, idx := range indices[i] {
			copy(dst[row*channels:(row+1)*channels], src[idx*channels:(idx+1)*channels])
			row++
		}
	}
	return out
}

// FallbackConcatenator is the portable path: it concatenates the whole
// sequences first, then selects the requested rows out of the concatenated
// tensor. Slower than the fused gather but observably identical.
type FallbackConcatenator[B tensor.Backend] struct{}

// SelectCat implements Concatenator.
func (FallbackConcatenator[B]) SelectCat(seqs []*tensor.Tensor[B], indices [][]int) *tensor.Tensor[B] {
	channels := seqs[0].Shape()[1]
	whole := tensor.Cat(seqs, 0) // [sum(length_i), channels]

	if indices == nil {
		return whole.Reshape(1, whole.Shape()[0], channels)
	}

	var global []int
	offset := 0
	for i, s := range seqs {
		if indices[i] == nil {
			for r := 0; r < s.Shape()[0]; r++ {
				global = append(global, offset+r)
			}
		} else {
			for _, idx := range indices[i] {
				global = append(global, offset+idx)
			}
		}
		offset += s.Shape()[0]
	}

	selected := whole.IndexSelect(global)
	return selected.Reshape(1, len(global), channels)
}

// Packer concatenates variable-length sequences into one dense batch and
// pairs the result with the matching block-diagonal mask from its cache.
// Packing never reorders or drops tokens.
type Packer[B tensor.Backend] struct {
	cache *MaskCache[B]
	cat   Concatenator[B]
}

// NewPacker creates a packer around the given mask cache and concatenation
// capability. A nil cat selects the fused implementation.
func NewPacker[B tensor.Backend](cache *MaskCache[B], cat Concatenator[B]) *Packer[B] {
	if cache == nil {
		panic("packing: nil mask cache")
	}
	if cat == nil {
		cat = FusedConcatenator[B]{}
	}
	return &Packer[B]{cache: cache, cat: cat}
}

// Pack concatenates the sequences along the token axis into one
// [1, sum(length_i), channels] tensor and returns it with the mask for the
// batch's length signature.
func (p *Packer[B]) Pack(seqs []*tensor.Tensor[B]) (*BlockDiagonalMask[B], *tensor.Tensor[B], error) {
	if err := validateSequences(seqs); err != nil {
		return nil, nil, err
	}
	lens := make([]int, len(seqs))
	for i, s := range seqs {
		lens[i] = s.Shape()[0]
	}
	mask := p.cache.Get(lens)
	return mask, p.cat.SelectCat(seqs, nil), nil
}

// PackSelected packs only the chosen rows of each sequence: indices[i]
// names the token rows of seqs[i] to keep, in order. The returned mask
// matches the selected lengths, not the original ones.
func (p *Packer[B]) PackSelected(seqs []*tensor.Tensor[B], indices [][]int) (*BlockDiagonalMask[B], *tensor.Tensor[B], error) {
	if err := validateSequences(seqs); err != nil {
		return nil, nil, err
	}
	if len(indices) != len(seqs) {
		return nil, nil, fmt.Errorf("packing: %d index sets for %d sequences", len(indices), len(seqs))
	}
	lens := make([]int, len(seqs))
	for i := range seqs {
		if indices[i] == nil {
			lens[i] = seqs[i].Shape()[0]
		} else {
			lens[i] = len(indices[i])
		}
	}
	mask := p.cache.Get(lens)
	return mask, p.cat.SelectCat(seqs, indices), nil
}

// Unpack splits a packed tensor back into per-sequence tensors at the
// mask's boundaries, reproducing the original lengths losslessly.
func (p *Packer[B]) Unpack(packed *tensor.Tensor[B], mask *BlockDiagonalMask[B]) []*tensor.Tensor[B] {
	return mask.Split(packed)
}

// Cache exposes the packer's mask cache.
func (p *Packer[B]) Cache() *MaskCache[B] {
	return p.cache
}

func validateSequences[B tensor.Backend](seqs []*tensor.Tensor[B]) error {
	if len(seqs) == 0 {
		return fmt.Errorf("packing: empty sequence list")
	}
	var channels int
	for i, s := range seqs {
		shape := s.Shape()
		if len(shape) != 2 {
			return fmt.Errorf("packing: sequence %d must be [length, channels], got %v", i, shape)
		}
		if i == 0 {
			channels = shape[1]
		} else if shape[1] != channels {
			return fmt.Errorf("packing: channel mismatch, sequence 0 has %d channels but sequence %d has %d",
				channels, i, shape[1])
		}
	}
	return nil
}
