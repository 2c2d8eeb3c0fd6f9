// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package packing exposes the variable-length batch packer and the
// block-diagonal attention mask cache.
//
// A batch of differently-sized sequences is fused into one dense
// [1, total, channels] tensor; the matching block-diagonal mask keeps
// attention sequence-local inside the fused call. Masks are cached per
// length signature in a bounded LRU.
//
// Example:
//
//	backend := cpu.New()
//	packer := packing.NewPacker(packing.NewMaskCache[*cpu.Backend](0, backend), nil)
//	mask, packed, err := packer.Pack(seqs)
package packing

import (
	"github.com/born-ml/vit/internal/packing"
	"github.com/born-ml/vit/tensor"
)

// DefaultCacheCapacity bounds the number of length signatures a MaskCache
// retains by default.
const DefaultCacheCapacity = packing.DefaultCacheCapacity

// BlockDiagonalMask restricts attention over a packed batch to
// sequence-local token pairs.
type BlockDiagonalMask[B tensor.Backend] = packing.BlockDiagonalMask[B]

// NewBlockDiagonalMask builds the mask for the given ordered sequence
// lengths.
func NewBlockDiagonalMask[B tensor.Backend](seqLens []int, backend B) *BlockDiagonalMask[B] {
	return packing.NewBlockDiagonalMask(seqLens, backend)
}

// MaskCache maps a batch-length signature to its block-diagonal mask.
type MaskCache[B tensor.Backend] = packing.MaskCache[B]

// NewMaskCache creates a cache holding at most capacity signatures.
// A capacity <= 0 selects DefaultCacheCapacity.
func NewMaskCache[B tensor.Backend](capacity int, backend B) *MaskCache[B] {
	return packing.NewMaskCache(capacity, backend)
}

// Concatenator is the select-and-concatenate capability behind the packer.
type Concatenator[B tensor.Backend] = packing.Concatenator[B]

// FusedConcatenator gathers selected rows directly into one preallocated
// buffer.
type FusedConcatenator[B tensor.Backend] = packing.FusedConcatenator[B]

// FallbackConcatenator concatenates whole sequences first, then selects.
// Observably identical to the fused path, only slower.
type FallbackConcatenator[B tensor.Backend] = packing.FallbackConcatenator[B]

// Packer concatenates variable-length sequences into one dense batch.
type Packer[B tensor.Backend] = packing.Packer[B]

// NewPacker creates a packer around the given mask cache and concatenation
// capability. A nil cat selects the fused implementation.
func NewPacker[B tensor.Backend](cache *MaskCache[B], cat Concatenator[B]) *Packer[B] {
	return packing.NewPacker(cache, cat)
}
