// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand"

	"github.com/born-ml/vit/internal/nn"
	"github.com/born-ml/vit/internal/tensor"
	"github.com/born-ml/vit/packing"
)

// Parameter represents a learned tensor of a layer.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// NewParameter creates a named parameter around an initialized tensor.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[B]) *Parameter[B] {
	return nn.NewParameter(name, t)
}

// Operator interfaces

// Normalizer is the interface for normalization operators.
type Normalizer[B tensor.Backend] = nn.Normalizer[B]

// AttentionOperator is the interface for attention operators.
type AttentionOperator[B tensor.Backend] = nn.AttentionOperator[B]

// FeedForward is the interface for feed-forward operators.
type FeedForward[B tensor.Backend] = nn.FeedForward[B]

// Layers

// Linear is a fully connected layer.
type Linear[B tensor.Backend] = nn.Linear[B]

// NewLinear creates a new linear layer with Xavier initialization.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, bias bool, rng *rand.Rand, backend B) *Linear[B] {
	return nn.NewLinear(inFeatures, outFeatures, bias, rng, backend)
}

// LayerNorm normalizes activations along the channel dimension.
type LayerNorm[B tensor.Backend] = nn.LayerNorm[B]

// NewLayerNorm creates a LayerNorm over the given channel count.
func NewLayerNorm[B tensor.Backend](channels int, epsilon float32, backend B) *LayerNorm[B] {
	return nn.NewLayerNorm(channels, epsilon, backend)
}

// MultiHeadAttention is the default attention operator.
type MultiHeadAttention[B tensor.Backend] = nn.MultiHeadAttention[B]

// NewMultiHeadAttention creates a multi-head self-attention operator.
func NewMultiHeadAttention[B tensor.Backend](
	channels, numHeads int,
	qkvBias, projBias bool,
	attnDropRate, projDropRate float32,
	rng *rand.Rand,
	backend B,
) *MultiHeadAttention[B] {
	return nn.NewMultiHeadAttention(channels, numHeads, qkvBias, projBias, attnDropRate, projDropRate, rng, backend)
}

// MLP is the standard GELU feed-forward operator.
type MLP[B tensor.Backend] = nn.MLP[B]

// NewMLP creates an MLP expanding channels to hidden and back.
func NewMLP[B tensor.Backend](channels, hidden int, bias bool, dropRate float32, rng *rand.Rand, backend B) *MLP[B] {
	return nn.NewMLP(channels, hidden, bias, dropRate, rng, backend)
}

// SwiGLUFFN is the gated feed-forward variant.
type SwiGLUFFN[B tensor.Backend] = nn.SwiGLUFFN[B]

// NewSwiGLUFFN creates a SwiGLU feed-forward operator.
func NewSwiGLUFFN[B tensor.Backend](channels, hidden int, bias bool, dropRate float32, rng *rand.Rand, backend B) *SwiGLUFFN[B] {
	return nn.NewSwiGLUFFN(channels, hidden, bias, dropRate, rng, backend)
}

// LayerScale is a learned per-channel rescale.
type LayerScale[B tensor.Backend] = nn.LayerScale[B]

// NewLayerScale creates a LayerScale with gamma filled with initValue.
func NewLayerScale[B tensor.Backend](channels int, initValue float32, backend B) *LayerScale[B] {
	return nn.NewLayerScale(channels, initValue, backend)
}

// DropPath is the per-sample path-drop operator.
type DropPath[B tensor.Backend] = nn.DropPath[B]

// NewDropPath creates a path-drop operator drawing from rng.
func NewDropPath[B tensor.Backend](rate float32, rng *rand.Rand) *DropPath[B] {
	return nn.NewDropPath[B](rate, rng)
}

// Dropout zeroes elements independently during training.
type Dropout[B tensor.Backend] = nn.Dropout[B]

// NewDropout creates a dropout operator drawing from rng.
func NewDropout[B tensor.Backend](rate float32, rng *rand.Rand) *Dropout[B] {
	return nn.NewDropout[B](rate, rng)
}

// Encoder block

// ResidualMode names the strategy a residual sub-layer uses for one call.
type ResidualMode = nn.ResidualMode

// The closed set of residual strategies.
const (
	ModeDense            ResidualMode = nn.ModeDense
	ModeStochasticSubset ResidualMode = nn.ModeStochasticSubset
	ModePathDrop         ResidualMode = nn.ModePathDrop
)

// ResidualModeFor picks the residual strategy from the training flag and
// the configured drop ratio.
func ResidualModeFor(training bool, ratio float32) ResidualMode {
	return nn.ResidualModeFor(training, ratio)
}

// ErrNestedUnsupported is returned when nested input reaches a block that
// was not constructed with a packer.
var ErrNestedUnsupported = nn.ErrNestedUnsupported

// BlockConfig configures an encoder block.
type BlockConfig = nn.BlockConfig

// Block is a pre-norm encoder residual block with per-call residual mode
// selection and optional nested-batch support.
type Block[B tensor.Backend] = nn.Block[B]

// NewBlock creates an encoder block for dense input.
func NewBlock[B tensor.Backend](config BlockConfig, backend B) *Block[B] {
	return nn.NewBlock(config, backend)
}

// NewNestedBlock creates an encoder block that additionally accepts nested
// (variable-length list) input through the given packer.
func NewNestedBlock[B tensor.Backend](config BlockConfig, packer *packing.Packer[B], backend B) *Block[B] {
	return nn.NewNestedBlock(config, packer, backend)
}

// Stochastic depth

// SampleSubset draws a random subset of [0, n) and its inverse-probability
// correction factor.
func SampleSubset(rng *rand.Rand, n int, ratio float32) ([]int, float32) {
	return nn.SampleSubset(rng, n, ratio)
}

// DropAddResidual applies a residual function to a random batch subset and
// scatters the rescaled result back.
func DropAddResidual[B tensor.Backend](
	x *tensor.Tensor[B],
	f func(*tensor.Tensor[B]) *tensor.Tensor[B],
	ratio float32,
	rng *rand.Rand,
) *tensor.Tensor[B] {
	return nn.DropAddResidual(x, f, ratio, rng)
}

// DropAddResidualNested is the packed variable-length form of
// DropAddResidual.
func DropAddResidualNested[B tensor.Backend](
	seqs []*tensor.Tensor[B],
	packer *packing.Packer[B],
	f func(packed *tensor.Tensor[B], mask *packing.BlockDiagonalMask[B]) *tensor.Tensor[B],
	ratio float32,
	rng *rand.Rand,
	gamma *tensor.Tensor[B],
) ([]*tensor.Tensor[B], error) {
	return nn.DropAddResidualNested(seqs, packer, f, ratio, rng, gamma)
}
