package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/vit/internal/tensor"
)

// MultiHeadAttention is the default attention operator.
//
// Queries, keys and values come from one fused QKV projection. The optional
// bias argument of Forward is added to the attention scores before softmax,
// which is how the block-diagonal mask of a packed batch restricts
// attention to sequence-local pairs.
type MultiHeadAttention[B tensor.Backend] struct {
	NumHeads int
	QKV      *Linear[B] // [channels -> 3*channels]
	Proj     *Linear[B] // [channels -> channels]

	attnDrop *Dropout[B]
	projDrop *Dropout[B]
	scale    float32
}

// NewMultiHeadAttention creates a multi-head self-attention operator.
func NewMultiHeadAttention[B tensor.Backend](
	channels, numHeads int,
	qkvBias, projBias bool,
	attnDropRate, projDropRate float32,
	rng *rand.Rand,
	backend B,
) *MultiHeadAttention[B] {
	if numHeads <= 0 {
		panic(fmt.Sprintf("MultiHeadAttention: numHeads must be positive, got %d", numHeads))
	}
	if channels%numHeads != 0 {
		panic(fmt.Sprintf("MultiHeadAttention: channels (%d) must be divisible by numHeads (%d)", channels, numHeads))
	}
	headDim := channels / numHeads
	return &MultiHeadAttention[B]{
		NumHeads: numHeads,
		QKV:      NewLinear(channels, 3*channels, qkvBias, rng, backend),
		Proj:     NewLinear(channels, channels, projBias, rng, backend),
		attnDrop: NewDropout[B](attnDropRate, rng),
		projDrop: NewDropout[B](projDropRate, rng),
		scale:    float32(1 / math.Sqrt(float64(headDim))),
	}
}

// Forward computes self-attention over x of shape [batch, tokens, channels].
// bias, when non-nil, is an additive attention bias broadcastable to
// [batch, heads, tokens, tokens]. The output shape equals the input shape.
func (m *MultiHeadAttention[B]) Forward(x, bias *tensor.Tensor[B], training bool) *tensor.Tensor[B] {
	shape := x.Shape()
	if len(shape) != 3 {
		panic(fmt.Sprintf("MultiHeadAttention: expected [batch, tokens, channels], got %v", shape))
	}
	batch, tokens, channels := shape[0], shape[1], shape[2]
	heads := m.NumHeads
	headDim := channels / heads

	qkv := m.QKV.Forward(x.Reshape(batch*tokens, channels)) // [batch*tokens, 3*channels]
	qkv = qkv.Reshape(batch, tokens, 3, heads, headDim).Transpose(2, 0, 3, 1, 4)
	q := qkv.Narrow(0, 0, 1).Reshape(batch, heads, tokens, headDim)
	k := qkv.Narrow(0, 1, 1).Reshape(batch, heads, tokens, headDim)
	v := qkv.Narrow(0, 2, 1).Reshape(batch, heads, tokens, headDim)

	scores := q.BatchMatMul(k.Transpose(0, 1, 3, 2)).MulScalar(m.scale)
	if bias != nil {
		scores = scores.Add(bias)
	}
	weights := m.attnDrop.Apply(scores.Softmax(), training)

	out := weights.BatchMatMul(v)                               // [batch, heads, tokens, headDim]
	out = out.Transpose(0, 2, 1, 3).Reshape(batch*tokens, channels)
	out = m.projDrop.Apply(m.Proj.Forward(out), training)
	return out.Reshape(batch, tokens, channels)
}

// Parameters returns the QKV and projection parameters.
func (m *MultiHeadAttention[B]) Parameters() []*Parameter[B] {
	params := make([]*Parameter[B], 0, 4)
	params = append(params, m.QKV.Parameters()...)
	params = append(params, m.Proj.Parameters()...)
	return params
}
