package nn

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/born-ml/vit/internal/packing"
	"github.com/born-ml/vit/internal/tensor"
)

// ErrNestedUnsupported is returned when nested (variable-length list) input
// reaches a block that was not constructed with a packer. The failure is
// surfaced at the point of use; a block never silently degrades nested
// input to dense computation.
var ErrNestedUnsupported = errors.New("nn: block not configured for nested input, construct with NewNestedBlock")

// ResidualMode names the strategy a residual sub-layer uses for one call.
type ResidualMode int

// The closed set of residual strategies.
const (
	// ModeDense adds the full residual to every batch entry.
	ModeDense ResidualMode = iota
	// ModeStochasticSubset updates a random subset of entries and rescales
	// the update to stay unbiased in expectation.
	ModeStochasticSubset
	// ModePathDrop computes the residual for every entry and then drops
	// whole samples with the standard Bernoulli path drop.
	ModePathDrop
)

// String returns the mode name.
func (m ResidualMode) String() string {
	switch m {
	case ModeDense:
		return "Dense"
	case ModeStochasticSubset:
		return "StochasticSubset"
	case ModePathDrop:
		return "PathDrop"
	default:
		return "Unknown"
	}
}

// ResidualModeFor picks the residual strategy from the training flag and
// the configured drop ratio. The choice is recomputed fresh for every
// sub-layer call; there is no persistent state. Subset dropping only pays
// off once the ratio is large enough to skip real work, hence the 0.1
// threshold below which the plain path drop is used.
func ResidualModeFor(training bool, ratio float32) ResidualMode {
	switch {
	case !training || ratio == 0:
		return ModeDense
	case ratio > 0.1:
		return ModeStochasticSubset
	default:
		return ModePathDrop
	}
}

// BlockConfig configures an encoder block.
type BlockConfig struct {
	EmbedDim int // channel count, e.g. 384 for ViT-S
	NumHeads int

	MLPRatio float32 // feed-forward expansion ratio, 0 selects 4
	NormEps  float32 // normalization epsilon, 0 selects 1e-6

	QKVBias  bool
	ProjBias bool
	FFNBias  bool

	DropoutRate          float32 // feature dropout inside the operators
	AttentionDropoutRate float32 // dropout on attention weights
	PathDropRate         float32 // stochastic-depth / path-drop ratio

	LayerScaleInit float32 // per-channel rescale init, 0 disables LayerScale
	UseSwiGLU      bool    // gated feed-forward instead of the GELU MLP

	// Rand is the source for all stochastic decisions (subset selection,
	// dropout, path drop). Nil selects a time-seeded source; tests inject
	// a fixed-seed one.
	Rand *rand.Rand
}

func (c *BlockConfig) withDefaults() BlockConfig {
	cfg := *c
	if cfg.MLPRatio == 0 {
		cfg.MLPRatio = 4
	}
	if cfg.NormEps == 0 {
		cfg.NormEps = 1e-6
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return cfg
}

func (c *BlockConfig) validate() {
	if c.EmbedDim <= 0 {
		panic(fmt.Sprintf("Block: embedDim must be positive, got %d", c.EmbedDim))
	}
	if c.NumHeads <= 0 {
		panic(fmt.Sprintf("Block: numHeads must be positive, got %d", c.NumHeads))
	}
	if c.EmbedDim%c.NumHeads != 0 {
		panic(fmt.Sprintf("Block: embedDim (%d) must be divisible by numHeads (%d)", c.EmbedDim, c.NumHeads))
	}
	if c.PathDropRate < 0 || c.PathDropRate >= 1 {
		panic(fmt.Sprintf("Block: pathDropRate must be in [0, 1), got %g", c.PathDropRate))
	}
}

// Block is a pre-norm encoder residual block:
//
//	x -> x + rescale(attention(norm1(x)))
//	  -> x + rescale(feedforward(norm2(x)))
//
// Each sub-layer's residual addition runs in one of three modes chosen per
// call (see ResidualModeFor): dense, stochastic-subset, or plain path drop.
// Blocks constructed with a packer additionally accept nested input — an
// ordered list of variable-length sequences fused into one dense call
// under a block-diagonal attention mask.
//
// The operator fields are exported; callers may replace any of them with
// their own implementation before first use.
type Block[B tensor.Backend] struct {
	Config BlockConfig

	Norm1       Normalizer[B]
	Attn        AttentionOperator[B]
	LayerScale1 *LayerScale[B] // nil when LayerScaleInit is 0
	DropPath1   *DropPath[B]

	Norm2       Normalizer[B]
	FFN         FeedForward[B]
	LayerScale2 *LayerScale[B]
	DropPath2   *DropPath[B]

	packer   *packing.Packer[B]
	rng      *rand.Rand
	training bool
	backend  B
}

// NewBlock creates an encoder block for dense [batch, tokens, channels]
// input. Nested input requires NewNestedBlock.
func NewBlock[B tensor.Backend](config BlockConfig, backend B) *Block[B] {
	config.validate()
	cfg := config.withDefaults()
	rng := cfg.Rand

	hidden := int(float32(cfg.EmbedDim) * cfg.MLPRatio)
	var ffn FeedForward[B]
	if cfg.UseSwiGLU {
		ffn = NewSwiGLUFFN(cfg.EmbedDim, hidden, cfg.FFNBias, cfg.DropoutRate, rng, backend)
	} else {
		ffn = NewMLP(cfg.EmbedDim, hidden, cfg.FFNBias, cfg.DropoutRate, rng, backend)
	}

	b := &Block[B]{
		Config: cfg,
		Norm1:  NewLayerNorm(cfg.EmbedDim, cfg.NormEps, backend),
		Attn: NewMultiHeadAttention(cfg.EmbedDim, cfg.NumHeads, cfg.QKVBias, cfg.ProjBias,
			cfg.AttentionDropoutRate, cfg.DropoutRate, rng, backend),
		DropPath1: NewDropPath[B](cfg.PathDropRate, rng),
		Norm2:     NewLayerNorm(cfg.EmbedDim, cfg.NormEps, backend),
		FFN:       ffn,
		DropPath2: NewDropPath[B](cfg.PathDropRate, rng),
		rng:       rng,
		backend:   backend,
	}
	if cfg.LayerScaleInit != 0 {
		b.LayerScale1 = NewLayerScale(cfg.EmbedDim, cfg.LayerScaleInit, backend)
		b.LayerScale2 = NewLayerScale(cfg.EmbedDim, cfg.LayerScaleInit, backend)
	}
	return b
}

// NewNestedBlock creates an encoder block that additionally accepts nested
// input through the given packer. A nil packer panics; use NewBlock for a
// dense-only block.
func NewNestedBlock[B tensor.Backend](config BlockConfig, packer *packing.Packer[B], backend B) *Block[B] {
	if packer == nil {
		panic("Block: NewNestedBlock requires a packer")
	}
	b := NewBlock(config, backend)
	b.packer = packer
	return b
}

// SetTraining switches the block between training and evaluation behavior.
// Blocks start in evaluation mode.
func (b *Block[B]) SetTraining(on bool) {
	b.training = on
}

// Training reports whether the block is in training mode.
func (b *Block[B]) Training() bool {
	return b.training
}

// Forward runs the block on a dense batch [batch, tokens, channels]. The
// output shape equals the input shape.
func (b *Block[B]) Forward(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := x.Shape()
	if len(shape) != 3 || shape[2] != b.Config.EmbedDim {
		panic(fmt.Sprintf("Block: expected [batch, tokens, %d], got %v", b.Config.EmbedDim, shape))
	}
	x = b.applyResidual(x, b.attnResidual, b.DropPath1)
	x = b.applyResidual(x, b.ffnResidual, b.DropPath2)
	return x
}

// ForwardNested runs the block on an ordered list of [length_i, channels]
// sequences, fusing them into one dense computation. The returned list
// matches the input's length and per-sequence shapes exactly.
//
// With dropping configured and training enabled, each sub-layer goes
// through the stochastic-depth packed path; otherwise the whole batch is
// packed once, both sub-layers run densely under the block-diagonal mask,
// and the result is split back.
func (b *Block[B]) ForwardNested(seqs []*tensor.Tensor[B]) ([]*tensor.Tensor[B], error) {
	if b.packer == nil {
		return nil, ErrNestedUnsupported
	}
	if len(seqs) == 0 {
		return nil, errors.New("nn: empty sequence list")
	}

	if b.training && b.Config.PathDropRate > 0 {
		ratio := b.Config.PathDropRate
		attn := func(packed *tensor.Tensor[B], mask *packing.BlockDiagonalMask[B]) *tensor.Tensor[B] {
			return b.Attn.Forward(b.Norm1.Forward(packed), mask.Bias(), b.training)
		}
		ffn := func(packed *tensor.Tensor[B], _ *packing.BlockDiagonalMask[B]) *tensor.Tensor[B] {
			return b.FFN.Forward(b.Norm2.Forward(packed), b.training)
		}
		seqs, err := DropAddResidualNested(seqs, b.packer, attn, ratio, b.rng, b.gamma(b.LayerScale1))
		if err != nil {
			return nil, err
		}
		return DropAddResidualNested(seqs, b.packer, ffn, ratio, b.rng, b.gamma(b.LayerScale2))
	}

	mask, packed, err := b.packer.Pack(seqs)
	if err != nil {
		return nil, err
	}
	x := packed
	x = x.Add(b.attnResidualMasked(x, mask.Bias()))
	x = x.Add(b.ffnResidual(x))
	return b.packer.Unpack(x, mask), nil
}

// Packer returns the block's packer, or nil for a dense-only block.
func (b *Block[B]) Packer() *packing.Packer[B] {
	return b.packer
}

// Parameters returns all learned parameters of the block.
func (b *Block[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 12)
	params = append(params, b.Norm1.Parameters()...)
	params = append(params, b.Attn.Parameters()...)
	if b.LayerScale1 != nil {
		params = append(params, b.LayerScale1.Parameters()...)
	}
	params = append(params, b.Norm2.Parameters()...)
	params = append(params, b.FFN.Parameters()...)
	if b.LayerScale2 != nil {
		params = append(params, b.LayerScale2.Parameters()...)
	}
	return params
}

// applyResidual adds one sub-layer's residual to x under the mode chosen
// for this call.
func (b *Block[B]) applyResidual(
	x *tensor.Tensor[B],
	f func(*tensor.Tensor[B]) *tensor.Tensor[B],
	dropPath *DropPath[B],
) *tensor.Tensor[B] {
	switch ResidualModeFor(b.training, b.Config.PathDropRate) {
	case ModeStochasticSubset:
		return DropAddResidual(x, f, b.Config.PathDropRate, b.rng)
	case ModePathDrop:
		return x.Add(dropPath.Apply(f(x), true))
	default:
		return x.Add(f(x))
	}
}

func (b *Block[B]) attnResidual(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	return b.attnResidualMasked(x, nil)
}

func (b *Block[B]) attnResidualMasked(x, bias *tensor.Tensor[B]) *tensor.Tensor[B] {
	out := b.Attn.Forward(b.Norm1.Forward(x), bias, b.training)
	if b.LayerScale1 != nil {
		out = b.LayerScale1.Forward(out)
	}
	return out
}

func (b *Block[B]) ffnResidual(x *tensor.Tensor[B]) *tensor.Tensor[B] {
	out := b.FFN.Forward(b.Norm2.Forward(x), b.training)
	if b.LayerScale2 != nil {
		out = b.LayerScale2.Forward(out)
	}
	return out
}

func (b *Block[B]) gamma(ls *LayerScale[B]) *tensor.Tensor[B] {
	if ls == nil {
		return nil
	}
	return ls.Gamma.Tensor()
}
